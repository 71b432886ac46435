package entity

import "image"

// BoundingBox прямоугольная область изображения, (X1,Y1) включительно, (X2,Y2) нет.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// FullBox возвращает область, покрывающую изображение целиком.
func FullBox(bounds image.Rectangle) BoundingBox {
	return BoundingBox{X1: bounds.Min.X, Y1: bounds.Min.Y, X2: bounds.Max.X, Y2: bounds.Max.Y}
}

// BoxFromRect строит область из image.Rectangle.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }
func (b BoundingBox) Area() int   { return b.Width() * b.Height() }

// Rect возвращает область в виде image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Empty сообщает, что область вырождена.
func (b BoundingBox) Empty() bool {
	return b.X1 >= b.X2 || b.Y1 >= b.Y2
}

// Clip обрезает область границами изображения.
func (b BoundingBox) Clip(bounds image.Rectangle) BoundingBox {
	return BoxFromRect(b.Rect().Intersect(bounds))
}

// Before задаёт порядок выбора между областями: больше площадь, затем левее, затем выше.
func (b BoundingBox) Before(other BoundingBox) bool {
	if b.Area() != other.Area() {
		return b.Area() > other.Area()
	}
	if b.X1 != other.X1 {
		return b.X1 < other.X1
	}
	return b.Y1 < other.Y1
}
