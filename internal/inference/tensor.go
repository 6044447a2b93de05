package inference

import (
	"fmt"
)

// DataType identifies the payload carried by a Tensor
type DataType string

const (
	TypeString     DataType = "string"
	TypeInt        DataType = "int"
	TypeFloatArray DataType = "float_array"
	TypeJSON       DataType = "json"
)

// Tensor is one typed input or output of a runtime method call
type Tensor struct {
	Type  DataType
	Value any // string, int64, []float32 or map[string]any
}

// Tensors maps tensor names to values
type Tensors map[string]Tensor

// StringTensor wraps a string input
func StringTensor(s string) Tensor {
	return Tensor{Type: TypeString, Value: s}
}

// IntTensor wraps an integer input
func IntTensor(i int64) Tensor {
	return Tensor{Type: TypeInt, Value: i}
}

// FloatArrayTensor wraps a float array input
func FloatArrayTensor(f []float32) Tensor {
	return Tensor{Type: TypeFloatArray, Value: f}
}

// JSONTensor wraps a JSON object input
func JSONTensor(m map[string]any) Tensor {
	return Tensor{Type: TypeJSON, Value: m}
}

// Has reports whether a tensor with the given name is present
func (t Tensors) Has(name string) bool {
	_, ok := t[name]
	return ok
}

// String returns the named string tensor
func (t Tensors) String(name string) (string, error) {
	v, err := t.lookup(name, TypeString)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("tensor %q: expected string, got %T", name, v)
	}
	return s, nil
}

// Int returns the named integer tensor
func (t Tensors) Int(name string) (int64, error) {
	v, err := t.lookup(name, TypeInt)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("tensor %q: expected int, got %T", name, v)
}

// FloatArray returns the named float array tensor
func (t Tensors) FloatArray(name string) ([]float32, error) {
	v, err := t.lookup(name, TypeFloatArray)
	if err != nil {
		return nil, err
	}
	f, ok := v.([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor %q: expected float array, got %T", name, v)
	}
	return f, nil
}

// JSON returns the named JSON object tensor
func (t Tensors) JSON(name string) (map[string]any, error) {
	v, err := t.lookup(name, TypeJSON)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tensor %q: expected JSON object, got %T", name, v)
	}
	return m, nil
}

func (t Tensors) lookup(name string, want DataType) (any, error) {
	tensor, ok := t[name]
	if !ok {
		return nil, fmt.Errorf("tensor %q missing from output", name)
	}
	if tensor.Type != want {
		return nil, fmt.Errorf("tensor %q: expected %s, got %s", name, want, tensor.Type)
	}
	return tensor.Value, nil
}
