package entity

import (
	"fmt"
	"strings"
)

// DecodeError входные байты не являются изображением. Ошибка клиента.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode image: %s: %v", e.Reason, e.Err)
	}
	return "decode image: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModelLoadError веса этапа не загружены. Фатальна при старте.
type ModelLoadError struct {
	Path   string
	Params []string // имена параметров, из-за которых загрузка не удалась
	Err    error
}

func (e *ModelLoadError) Error() string {
	msg := "load model " + e.Path
	if len(e.Params) > 0 {
		msg += " [" + strings.Join(e.Params, ", ") + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// PredictionError сбой выполнения каскада на одном из этапов.
type PredictionError struct {
	Stage Stage
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("predict (%s stage): %v", e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error { return e.Err }
