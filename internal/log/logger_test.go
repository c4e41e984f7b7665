package log

import "testing"

func TestGetBeforeSetupReturnsLogger(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get returned nil logger")
	}
}

func TestWithHelpersReturnDerivedLoggers(t *testing.T) {
	if WithComponent("router") == nil {
		t.Fatal("WithComponent returned nil")
	}
	if WithRequest("req-1") == nil {
		t.Fatal("WithRequest returned nil")
	}
	if WithCaller("com.example.app") == nil {
		t.Fatal("WithCaller returned nil")
	}
}
