package logger

import (
	"io"
)

func MockLogger() *Logger {
	config := &Config{
		ConsoleWriters: []io.Writer{io.Discard},
	}

	if logger, err := New(config); err == nil {
		return logger
	}
	return nil
}
