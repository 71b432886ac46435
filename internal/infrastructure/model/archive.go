package model

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/x448/float16"
)

// Архив весов в раскладке safetensors: 8 байт длины заголовка (LE), JSON-заголовок,
// затем сырые данные тензоров.
const (
	metadataKey    = "__metadata__"
	maxHeaderBytes = 100 << 20
)

// DType тип элементов тензора в архиве
type DType string

const (
	DTypeF32  DType = "F32"
	DTypeF64  DType = "F64"
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
	DTypeI64  DType = "I64"
	DTypeI32  DType = "I32"
	DTypeI16  DType = "I16"
	DTypeI8   DType = "I8"
	DTypeU64  DType = "U64"
	DTypeU32  DType = "U32"
	DTypeU16  DType = "U16"
	DTypeU8   DType = "U8"
	DTypeBool DType = "BOOL"
)

func (d DType) size() int {
	switch d {
	case DTypeF64, DTypeI64, DTypeU64:
		return 8
	case DTypeF32, DTypeI32, DTypeU32:
		return 4
	case DTypeF16, DTypeBF16, DTypeI16, DTypeU16:
		return 2
	case DTypeI8, DTypeU8, DTypeBool:
		return 1
	}
	return 0
}

// IsFloat сообщает, переводится ли тип в float32 без потери смысла.
func (d DType) IsFloat() bool {
	switch d {
	case DTypeF32, DTypeF64, DTypeF16, DTypeBF16:
		return true
	}
	return false
}

// Tensor параметр модели, приведённый к float32.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NumElements число элементов по форме.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Archive типизированное отображение имя -> тензор.
// Нечисловые тензоры (счётчики BatchNorm, маски) не декодируются и перечислены в Skipped.
type Archive struct {
	Tensors  map[string]Tensor
	Metadata map[string]string
	Skipped  []string
}

type tensorHeader struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// OpenArchive читает архив весов с диска.
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ReadArchive(f)
}

// ReadArchive разбирает архив весов.
func ReadArchive(r io.Reader) (*Archive, error) {
	var headerLen uint64
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if headerLen == 0 || headerLen > maxHeaderBytes {
		return nil, fmt.Errorf("invalid header length %d", headerLen)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	archive := &Archive{
		Tensors:  make(map[string]Tensor, len(raw)),
		Metadata: map[string]string{},
	}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &archive.Metadata); err != nil {
				return nil, fmt.Errorf("parse metadata: %w", err)
			}
			continue
		}

		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("parse tensor %q: %w", name, err)
		}
		if !th.DType.IsFloat() {
			if err := checkOffsets(th, payload); err != nil {
				return nil, fmt.Errorf("tensor %q: %w", name, err)
			}
			archive.Skipped = append(archive.Skipped, name)
			continue
		}
		t, err := decodeTensor(th, payload)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		archive.Tensors[name] = t
	}
	sort.Strings(archive.Skipped)

	return archive, nil
}

// checkOffsets проверяет границы данных тензора, который не декодируется.
// Для известных типов длина сверяется с формой.
func checkOffsets(th tensorHeader, payload []byte) error {
	begin, end := th.DataOffsets[0], th.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(payload)) {
		return fmt.Errorf("data offsets [%d, %d] out of range", begin, end)
	}
	size := th.DType.size()
	if size == 0 {
		return nil
	}
	n := Tensor{Shape: th.Shape}.NumElements()
	if n < 0 || end-begin != int64(n*size) {
		return fmt.Errorf("data length %d does not match shape %v", end-begin, th.Shape)
	}
	return nil
}

func decodeTensor(th tensorHeader, payload []byte) (Tensor, error) {
	size := th.DType.size()
	t := Tensor{Shape: th.Shape}
	n := t.NumElements()
	if n < 0 {
		return Tensor{}, errors.New("negative dimension")
	}

	begin, end := th.DataOffsets[0], th.DataOffsets[1]
	if begin < 0 || end < begin || end > int64(len(payload)) {
		return Tensor{}, fmt.Errorf("data offsets [%d, %d] out of range", begin, end)
	}
	if end-begin != int64(n*size) {
		return Tensor{}, fmt.Errorf("data length %d does not match shape %v", end-begin, th.Shape)
	}

	buf := payload[begin:end]
	t.Data = make([]float32, n)
	for i := range t.Data {
		chunk := buf[i*size:]
		switch th.DType {
		case DTypeF32:
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(chunk))
		case DTypeF64:
			t.Data[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(chunk)))
		case DTypeF16:
			t.Data[i] = halfToFloat32(binary.LittleEndian.Uint16(chunk))
		case DTypeBF16:
			t.Data[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(chunk)) << 16)
		}
	}

	return t, nil
}

// halfToFloat32 переводит IEEE 754 binary16 в float32.
func halfToFloat32(h uint16) float32 {
	return float16.Frombits(h).Float32()
}
