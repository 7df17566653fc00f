package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// Logger logs every rendezvous request. The token label in the hostname is
// the interesting part of each line, so the host is logged alongside the
// path.
func Logger() fiber.Handler {
	return logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${host}${path}\n",
		TimeFormat: "15:04:05",
	})
}
