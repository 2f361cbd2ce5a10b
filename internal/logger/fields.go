package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Route(v string) zap.Field { return zap.String("route", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

func UserAgent(v string) zap.Field { return zap.String("user_agent", v) }

// Verification fields.

func DirectoryURL(v string) zap.Field { return zap.String("directory_url", v) }

func KeyID(v string) zap.Field { return zap.String("key_id", v) }

func Outcome(v string) zap.Field { return zap.String("outcome", v) }

// Component names the subsystem emitting the entry.
func Component(v string) zap.Field { return zap.String("component", v) }

func Err(err error) zap.Field { return zap.Error(err) }
