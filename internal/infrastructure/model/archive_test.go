package model

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type rawTensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// encodeArchive собирает архив: tensors пишутся как F32, raw байт в байт.
func encodeArchive(t *testing.T, tensors map[string]Tensor, raw map[string]rawTensor, metadata map[string]string) []byte {
	t.Helper()

	entries := make(map[string]rawTensor, len(tensors)+len(raw))
	for name, tensor := range tensors {
		require.Equal(t, tensor.NumElements(), len(tensor.Data), name)
		data := make([]byte, 4*len(tensor.Data))
		for i, v := range tensor.Data {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		entries[name] = rawTensor{DType: DTypeF32, Shape: tensor.Shape, Data: data}
	}
	for name, r := range raw {
		entries[name] = r
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var payload bytes.Buffer
	for _, name := range names {
		e := entries[name]
		shape := e.Shape
		if shape == nil {
			shape = []int{}
		}
		begin := int64(payload.Len())
		payload.Write(e.Data)
		header[name] = tensorHeader{DType: e.DType, Shape: shape, DataOffsets: [2]int64{begin, int64(payload.Len())}}
	}

	js, err := json.Marshal(header)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint64(len(js))))
	out.Write(js)
	out.Write(payload.Bytes())
	return out.Bytes()
}

func int64Bytes(vs ...int64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func uint16Bytes(vs ...uint16) []byte {
	buf := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

func TestArchiveRoundTrip(t *testing.T) {
	tensors := map[string]Tensor{
		"a": {Shape: []int{2, 2}, Data: []float32{1, -2, 3.5, 0}},
		"b": {Shape: []int{}, Data: []float32{7}},
	}

	out, err := ReadArchive(bytes.NewReader(encodeArchive(t, tensors, nil, map[string]string{"format": "pt"})))
	require.NoError(t, err)
	require.Equal(t, tensors, out.Tensors)
	require.Equal(t, "pt", out.Metadata["format"])
	require.Empty(t, out.Skipped)
}

func TestArchiveSkipsIntegerTensors(t *testing.T) {
	data := encodeArchive(t,
		map[string]Tensor{"bn.weight": {Shape: []int{2}, Data: []float32{1, 1}}},
		map[string]rawTensor{
			"bn.num_batches_tracked": {DType: DTypeI64, Shape: []int{}, Data: int64Bytes(1200)},
			"mask":                   {DType: DTypeBool, Shape: []int{3}, Data: []byte{1, 0, 1}},
		},
		nil,
	)

	out, err := ReadArchive(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, []string{"bn.num_batches_tracked", "mask"}, out.Skipped)
	require.Len(t, out.Tensors, 1)
	require.Contains(t, out.Tensors, "bn.weight")
}

func TestArchiveDecodesHalfPrecision(t *testing.T) {
	data := encodeArchive(t, nil, map[string]rawTensor{
		"f16":  {DType: DTypeF16, Shape: []int{2}, Data: uint16Bytes(0x3c00, 0xc000)},
		"bf16": {DType: DTypeBF16, Shape: []int{2}, Data: uint16Bytes(0x3f80, 0xc000)},
	}, nil)

	out, err := ReadArchive(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, []float32{1, -2}, out.Tensors["f16"].Data)
	require.Equal(t, []float32{1, -2}, out.Tensors["bf16"].Data)
}

func TestArchiveRejectsCorruptPayload(t *testing.T) {
	data := encodeArchive(t, map[string]Tensor{
		"w": {Shape: []int{4}, Data: []float32{1, 2, 3, 4}},
	}, nil, nil)

	_, err := ReadArchive(bytes.NewReader(data[:len(data)-4]))
	require.Error(t, err)

	_, err = ReadArchive(bytes.NewReader([]byte{1, 2, 3}))
	require.Error(t, err)

	// счётчик I64 заявлен на два элемента, а данных на один
	data = encodeArchive(t, nil, map[string]rawTensor{
		"n": {DType: DTypeI64, Shape: []int{2}, Data: int64Bytes(1)},
	}, nil)
	_, err = ReadArchive(bytes.NewReader(data))
	require.Error(t, err)
}

func TestHalfToFloat32(t *testing.T) {
	require.Equal(t, float32(1), halfToFloat32(0x3c00))
	require.Equal(t, float32(-2), halfToFloat32(0xc000))
	require.Equal(t, float32(65504), halfToFloat32(0x7bff))
	require.Equal(t, float32(0.5), halfToFloat32(0x3800))
	require.InDelta(t, 5.960464477539063e-08, halfToFloat32(0x0001), 1e-12)
	require.True(t, math.IsInf(float64(halfToFloat32(0x7c00)), 1))
}
