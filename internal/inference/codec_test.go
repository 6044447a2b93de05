package inference

import (
	"errors"
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	inputs := Tensors{
		"prompt":  StringTensor("Hello"),
		"max":     IntTensor(128),
		"samples": FloatArrayTensor([]float32{0.25, -1}),
		"options": JSONTensor(map[string]any{"voice": "calm", "speed": 1.5}),
	}

	req, err := EncodeRequest(MethodFeedInput, inputs)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	method, decoded, err := DecodeRequest(req)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	if method != MethodFeedInput {
		t.Errorf("Expected method %s, got %s", MethodFeedInput, method)
	}
	if !reflect.DeepEqual(decoded, inputs) {
		t.Errorf("Expected %v, got %v", inputs, decoded)
	}
}

func TestEncodeRequest_TypeMismatch(t *testing.T) {
	_, err := EncodeRequest(MethodSynthesize, Tensors{"text": {Type: TypeString, Value: 42}})
	if err == nil {
		t.Error("Expected error for mismatched tensor value")
	}
}

func TestDecodeResponse_FailureStatus(t *testing.T) {
	resp, err := EncodeResponse(nil, errors.New("busy"))
	if err != nil {
		t.Fatalf("EncodeResponse failed: %v", err)
	}

	_, err = DecodeResponse(MethodSynthesize, resp)
	var methodErr *MethodError
	if !errors.As(err, &methodErr) {
		t.Fatalf("Expected *MethodError, got %v", err)
	}
	if methodErr.Error() != "runtime method synthesize failed: busy" {
		t.Errorf("Unexpected message: %s", methodErr.Error())
	}
}

func TestTensors_Accessors(t *testing.T) {
	out := Tensors{
		"str":      StringTensor("hi"),
		"finished": IntTensor(1),
	}

	if !out.Has("str") || out.Has("missing") {
		t.Error("Has reported the wrong presence")
	}
	if s, err := out.String("str"); err != nil || s != "hi" {
		t.Errorf("Expected 'hi', got '%s' (%v)", s, err)
	}
	if _, err := out.Int("str"); err == nil {
		t.Error("Expected type error reading a string as int")
	}
	if _, err := out.FloatArray("audio"); err == nil {
		t.Error("Expected error for missing tensor")
	}
	if n, err := out.Int("finished"); err != nil || n != 1 {
		t.Errorf("Expected 1, got %d (%v)", n, err)
	}
}
