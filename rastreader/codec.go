package rastreader

import (
	"fmt"
	"unsafe"

	"github.com/golang/snappy"
)

// Tiles are raw little-endian arrays; the reinterpretation below assumes a
// little-endian host like the producers of the tiles.

var dtypeSize = map[string]int{"uint8": 1, "int16": 2, "uint16": 2, "float32": 4}

// decodeTile decompresses a tile and widens it to float32.
func decodeTile(dtype string, cdata []byte) ([]float32, error) {
	size, ok := dtypeSize[dtype]
	if !ok {
		return nil, fmt.Errorf("unsupported data type %q", dtype)
	}
	data, err := snappy.Decode(nil, cdata)
	if err != nil {
		return nil, fmt.Errorf("Error decompressing data: %v", err)
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %s values", len(data), dtype)
	}
	n := len(data) / size
	if n == 0 {
		return []float32{}, nil
	}

	out := make([]float32, n)
	switch dtype {
	case "uint8":
		for i, v := range data {
			out[i] = float32(v)
		}
	case "int16":
		for i, v := range unsafe.Slice((*int16)(unsafe.Pointer(&data[0])), n) {
			out[i] = float32(v)
		}
	case "uint16":
		for i, v := range unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), n) {
			out[i] = float32(v)
		}
	case "float32":
		copy(out, unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), n))
	}
	return out, nil
}

// encodeTile narrows pix to dtype and compresses it.
func encodeTile(dtype string, pix []float32) ([]byte, error) {
	size, ok := dtypeSize[dtype]
	if !ok {
		return nil, fmt.Errorf("unsupported data type %q", dtype)
	}
	data := make([]byte, len(pix)*size)
	if len(pix) > 0 {
		switch dtype {
		case "uint8":
			for i, v := range pix {
				data[i] = uint8(v)
			}
		case "int16":
			dst := unsafe.Slice((*int16)(unsafe.Pointer(&data[0])), len(pix))
			for i, v := range pix {
				dst[i] = int16(v)
			}
		case "uint16":
			dst := unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), len(pix))
			for i, v := range pix {
				dst[i] = uint16(v)
			}
		case "float32":
			copy(unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), len(pix)), pix)
		}
	}
	return snappy.Encode(nil, data), nil
}
