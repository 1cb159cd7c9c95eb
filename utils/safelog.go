// utils/safelog.go
// ============================================================================
// SAFE LOGGING - Masque les données sensibles en production
// ============================================================================
// Builds the process slog.Logger. In production the handler masks bot
// tokens, join links, and Discord ids before anything is written.
// ============================================================================

package utils

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// ============================================================================
// CONFIGURATION
// ============================================================================

var (
	// IsProduction détermine si on est en mode production
	IsProduction = DetectProduction(os.Getenv)
)

// DetectProduction reads GIN_MODE / ENVIRONMENT / ENV through getenv.
func DetectProduction(getenv func(string) string) bool {
	return getenv("GIN_MODE") == "release" ||
		getenv("ENVIRONMENT") == "production" ||
		getenv("ENV") == "production"
}

// ParseLevel maps LOG_LEVEL values onto slog levels. Unknown values mean INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a JSON logger with masking when production is true and
// a plain text logger otherwise.
func NewLogger(w io.Writer, level string, production bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if production {
		opts.ReplaceAttr = maskAttr
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ============================================================================
// PATTERNS DE MASQUAGE
// ============================================================================

var (
	// Bot tokens: three base64url segments separated by dots
	tokenRegex = regexp.MustCompile(`[A-Za-z0-9_-]{23,28}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{27,}`)

	// Join links
	inviteRegex = regexp.MustCompile(`(https?://)?(discord\.gg|discord(app)?\.com/invite)/[A-Za-z0-9-]+`)

	// Snowflake ids (17 to 20 digits)
	snowflakeRegex = regexp.MustCompile(`\b\d{17,20}\b`)

	// UUIDs complets
	uuidRegex = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// Attribute keys whose values are always hidden or shortened.
var (
	secretKeys = map[string]bool{"token": true, "bot_token": true, "authorization": true}
	idKeys     = map[string]bool{
		"user_id": true, "target_user_id": true, "requested_by": true,
		"acting_user_id": true, "invitation_id": true,
	}
)

// ============================================================================
// FONCTIONS DE MASQUAGE
// ============================================================================

// MaskString masque les données sensibles dans une chaîne
func MaskString(input string) string {
	result := tokenRegex.ReplaceAllString(input, "***TOKEN***")
	result = inviteRegex.ReplaceAllString(result, "discord.gg/***")
	result = snowflakeRegex.ReplaceAllStringFunc(result, shorten)
	result = uuidRegex.ReplaceAllStringFunc(result, shorten)
	return result
}

// MaskID masque partiellement un ID (garde les 4 premiers caractères)
func MaskID(id string) string {
	return shorten(id)
}

func shorten(id string) string {
	if len(id) <= 8 {
		return "***"
	}
	return id[:4] + "..."
}

func maskAttr(_ []string, attr slog.Attr) slog.Attr {
	key := strings.ToLower(attr.Key)
	switch {
	case secretKeys[key]:
		return slog.String(attr.Key, "***")
	case idKeys[key]:
		return slog.String(attr.Key, MaskID(attr.Value.Resolve().String()))
	}

	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, MaskString(value.String()))
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return slog.String(attr.Key, MaskString(err.Error()))
		}
	}
	return attr
}

// ============================================================================
// FONCTIONS DE LOGGING MÉTIER SPÉCIFIQUES
// ============================================================================

// LogAPIRequest log une requête API (sans données sensibles dans le body)
func LogAPIRequest(logger *slog.Logger, method, path, clientIP string, statusCode int, duration time.Duration) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "api request",
		"method", method,
		"path", path,
		"client_ip", clientIP,
		"status", statusCode,
		"duration", duration.String(),
	)
}

// GetEnvMode retourne le mode d'environnement actuel
func GetEnvMode() string {
	if IsProduction {
		return "production"
	}
	return "development"
}

// LogStartup log les informations de démarrage de l'application
func LogStartup(logger *slog.Logger, appName, version, port, level string) {
	logger.Info("🚀 starting", "app", appName, "version", version, "mode", GetEnvMode(), "port", port, "log_level", strings.ToUpper(level))
	if IsProduction {
		logger.Warn("⚠️  production mode: sensitive data will be masked in logs")
	}
}
