package logging

import "testing"

func TestNewLoggerWithService(t *testing.T) {
	l := NewLoggerWithService("gptwrapper")
	entry := l.WithField("course_id", "test-course")
	if entry == nil {
		t.Fatalf("expected non-nil entry")
	}
}
