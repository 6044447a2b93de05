package inference

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Wire layout of a RunMethod call, carried as google.protobuf.Struct:
//
//	request:  {"method": "...", "inputs": {"<name>": {"type": "string", "value": ...}}}
//	response: {"status": true, "error": "...", "outputs": {"<name>": {"type": ..., "value": ...}}}
const (
	fieldMethod  = "method"
	fieldInputs  = "inputs"
	fieldStatus  = "status"
	fieldError   = "error"
	fieldOutputs = "outputs"
	fieldType    = "type"
	fieldValue   = "value"
)

// EncodeRequest builds the wire request for a method call
func EncodeRequest(method string, inputs Tensors) (*structpb.Struct, error) {
	encoded, err := encodeTensors(inputs)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldMethod: structpb.NewStringValue(method),
		fieldInputs: structpb.NewStructValue(encoded),
	}}, nil
}

// DecodeRequest is the inverse of EncodeRequest
func DecodeRequest(req *structpb.Struct) (string, Tensors, error) {
	method := req.GetFields()[fieldMethod].GetStringValue()
	if method == "" {
		return "", nil, fmt.Errorf("request has no method")
	}
	inputs, err := decodeTensors(req.GetFields()[fieldInputs].GetStructValue())
	if err != nil {
		return "", nil, err
	}
	return method, inputs, nil
}

// EncodeResponse builds the wire response; a non-nil callErr becomes a failure status
func EncodeResponse(outputs Tensors, callErr error) (*structpb.Struct, error) {
	resp := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldStatus: structpb.NewBoolValue(callErr == nil),
	}}
	if callErr != nil {
		resp.Fields[fieldError] = structpb.NewStringValue(callErr.Error())
		return resp, nil
	}
	encoded, err := encodeTensors(outputs)
	if err != nil {
		return nil, err
	}
	resp.Fields[fieldOutputs] = structpb.NewStructValue(encoded)
	return resp, nil
}

// DecodeResponse checks the status flag before touching the payload
func DecodeResponse(method string, resp *structpb.Struct) (Tensors, error) {
	fields := resp.GetFields()
	if !fields[fieldStatus].GetBoolValue() {
		return nil, &MethodError{Method: method, Message: fields[fieldError].GetStringValue()}
	}
	return decodeTensors(fields[fieldOutputs].GetStructValue())
}

func encodeTensors(tensors Tensors) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(tensors))}
	for name, t := range tensors {
		value, err := encodeValue(t)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		out.Fields[name] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			fieldType:  structpb.NewStringValue(string(t.Type)),
			fieldValue: value,
		}})
	}
	return out, nil
}

func encodeValue(t Tensor) (*structpb.Value, error) {
	switch t.Type {
	case TypeString:
		s, ok := t.Value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", t.Value)
		}
		return structpb.NewStringValue(s), nil

	case TypeInt:
		switch n := t.Value.(type) {
		case int64:
			return structpb.NewNumberValue(float64(n)), nil
		case int:
			return structpb.NewNumberValue(float64(n)), nil
		}
		return nil, fmt.Errorf("expected int, got %T", t.Value)

	case TypeFloatArray:
		f, ok := t.Value.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32, got %T", t.Value)
		}
		values := make([]*structpb.Value, len(f))
		for i, v := range f {
			values[i] = structpb.NewNumberValue(float64(v))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values}), nil

	case TypeJSON:
		m, ok := t.Value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected JSON object, got %T", t.Value)
		}
		s, err := structpb.NewStruct(m)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	}
	return nil, fmt.Errorf("unknown tensor type %q", t.Type)
}

func decodeTensors(s *structpb.Struct) (Tensors, error) {
	out := make(Tensors, len(s.GetFields()))
	for name, v := range s.GetFields() {
		entry := v.GetStructValue()
		if entry == nil {
			return nil, fmt.Errorf("tensor %q is not an object", name)
		}
		dataType := DataType(entry.GetFields()[fieldType].GetStringValue())
		value := entry.GetFields()[fieldValue]

		t := Tensor{Type: dataType}
		switch dataType {
		case TypeString:
			t.Value = value.GetStringValue()
		case TypeInt:
			t.Value = int64(value.GetNumberValue())
		case TypeFloatArray:
			list := value.GetListValue().GetValues()
			f := make([]float32, len(list))
			for i, item := range list {
				f[i] = float32(item.GetNumberValue())
			}
			t.Value = f
		case TypeJSON:
			m := value.GetStructValue().AsMap()
			if m == nil {
				m = map[string]any{}
			}
			t.Value = m
		default:
			return nil, fmt.Errorf("tensor %q has unknown type %q", name, dataType)
		}
		out[name] = t
	}
	return out, nil
}
