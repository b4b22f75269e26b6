package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// IDPattern bounds every caller-supplied identifier.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

type Config struct {
	MaxContentLength    int
	MaxNotesLength      int
	MaxCategories       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed verify and feedback bodies before they reach
// a handler. Content under review is passed through untouched.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = 100_000
	}
	if cfg.MaxNotesLength == 0 {
		cfg.MaxNotesLength = 4000
	}
	if cfg.MaxCategories == 0 {
		cfg.MaxCategories = 64
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		if contentType := c.Get(fiber.HeaderContentType); contentType != "" {
			allowed := false
			for _, allowedType := range cfg.AllowedContentTypes {
				if strings.Contains(contentType, allowedType) {
					allowed = true
					break
				}
			}
			if !allowed {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		var check func(map[string]any, Config) error
		switch {
		case strings.HasSuffix(c.Path(), "/verify"):
			check = checkVerify
		case strings.HasSuffix(c.Path(), "/feedback"):
			check = checkFeedback
		case strings.HasSuffix(c.Path(), "/pdca/cycles"):
			check = checkCycle
		default:
			return c.Next()
		}

		var req map[string]any
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if err := check(req, cfg); err != nil {
			cfg.Logger.Debug("Request rejected by validation",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			status := fiber.StatusBadRequest
			if err == errTooLarge {
				status = fiber.StatusRequestEntityTooLarge
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}

		return c.Next()
	}
}

var errTooLarge = fmt.Errorf("content exceeds maximum length")

func checkVerify(req map[string]any, cfg Config) error {
	content, ok := req["content"].(string)
	if !ok || strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required and must be a non-empty string")
	}
	if len(content) > cfg.MaxContentLength {
		return errTooLarge
	}
	if err := optionalID(req, "user_id"); err != nil {
		return err
	}
	if err := optionalID(req, "verification_id"); err != nil {
		return err
	}
	if raw, present := req["project_name"]; present && raw != nil {
		if s, ok := raw.(string); !ok || len(s) > maxProjectName {
			return fmt.Errorf("project_name must be a string of at most %d bytes", maxProjectName)
		}
	}

	if raw, present := req["categories"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("categories must be an array of strings")
		}
		if len(list) > cfg.MaxCategories {
			return fmt.Errorf("too many categories")
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok || !IDPattern.MatchString(s) {
				return fmt.Errorf("invalid category id")
			}
		}
	}
	return nil
}

const maxProjectName = 200

func checkCycle(req map[string]any, cfg Config) error {
	if s, ok := req["user_id"].(string); !ok || !IDPattern.MatchString(s) {
		return fmt.Errorf("user_id is required and must match %s", IDPattern.String())
	}
	project, ok := req["project_name"].(string)
	if !ok || strings.TrimSpace(project) == "" || len(project) > maxProjectName {
		return fmt.Errorf("project_name is required and must be at most %d bytes", maxProjectName)
	}
	if raw, present := req["risk_threshold"]; present && raw != nil {
		n, ok := raw.(float64)
		if !ok || n < 0 || n > 100 {
			return fmt.Errorf("risk_threshold must be a number within [0, 100]")
		}
	}
	if raw, present := req["frameworks"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok || len(list) > cfg.MaxCategories {
			return fmt.Errorf("frameworks must be an array of at most %d ids", cfg.MaxCategories)
		}
		for _, item := range list {
			if s, ok := item.(string); !ok || !IDPattern.MatchString(s) {
				return fmt.Errorf("invalid framework id")
			}
		}
	}
	return nil
}

func checkFeedback(req map[string]any, cfg Config) error {
	for _, field := range []string{"verification_id", "category_id", "user_id"} {
		s, ok := req[field].(string)
		if !ok || !IDPattern.MatchString(s) {
			return fmt.Errorf("%s is required and must match %s", field, IDPattern.String())
		}
	}
	if s, ok := req["feedback_type"].(string); !ok || s == "" {
		return fmt.Errorf("feedback_type is required")
	}
	if notes, ok := req["notes"].(string); ok && len(notes) > cfg.MaxNotesLength {
		return fmt.Errorf("notes exceed maximum length")
	}
	return nil
}

func optionalID(req map[string]any, field string) error {
	raw, present := req[field]
	if !present || raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok || !IDPattern.MatchString(s) {
		return fmt.Errorf("%s must match %s", field, IDPattern.String())
	}
	return nil
}
