package esp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/rest"
)

// Log levels accepted by SetLoggerLevel
const (
	LevelInfo  = "info"
	LevelTrace = "trace"
	LevelError = "error"
	LevelWarn  = "warn"
	LevelFatal = "fatal"
	LevelDebug = "debug"
	LevelOff   = "off"
)

// Logger is a server logger and its level
type Logger struct {
	Name  string
	Level string
}

func (l Logger) String() string {
	return fmt.Sprintf("Logger(name=%q, level=%q)", l.Name, l.Level)
}

// NormalizeLevel lower-cases a level and maps "warning" to "warn". Unknown
// levels fail.
func NormalizeLevel(level string) (string, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = LevelWarn
	}
	switch level {
	case LevelInfo, LevelTrace, LevelError, LevelWarn, LevelFatal, LevelDebug, LevelOff:
		return level, nil
	}
	return "", errors.Invalidf(errors.ErrInvalidValue, "Logger", "NormalizeLevel", "%s is not a valid logging level", level)
}

func loggerLevel(raw string) string {
	if level, err := NormalizeLevel(raw); err == nil {
		return level
	}
	return strings.ToLower(raw)
}

// Loggers returns every server logger keyed by name
func (c *Connection) Loggers(ctx context.Context) (map[string]Logger, error) {
	root, err := c.session.Get(ctx, "loggers", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Loggers", "get loggers")
	}
	out := make(map[string]Logger)
	for _, item := range root.FindAll("./logger") {
		l := Logger{Name: item.AttrOr("name", ""), Level: loggerLevel(item.AttrOr("level", ""))}
		out[l.Name] = l
	}
	return out, nil
}

// Logger returns one server logger
func (c *Connection) Logger(ctx context.Context, name string) (Logger, error) {
	root, err := c.session.Get(ctx, "loggers/"+name, nil)
	if err != nil {
		if errors.IsServerError(err) {
			return Logger{}, errors.Invalidf(errors.ErrNotFound, "Connection", "Logger", "no logger with the name %q exists", name)
		}
		return Logger{}, errors.Wrap(err, "Connection", "Logger", "get logger "+name)
	}
	node := root.Find("./logger")
	if root.Tag == "logger" {
		node = root
	}
	if node == nil {
		return Logger{}, errors.Invalidf(errors.ErrNotFound, "Connection", "Logger", "no logger with the name %q exists", name)
	}
	return Logger{Name: node.AttrOr("name", name), Level: loggerLevel(node.AttrOr("level", ""))}, nil
}

// SetLoggerLevel changes the level of a server logger
func (c *Connection) SetLoggerLevel(ctx context.Context, name, level string) error {
	level, err := NormalizeLevel(level)
	if err != nil {
		return err
	}
	if _, err := c.session.Put(ctx, "loggers/"+name+"/level", rest.NewParams().Set("value", level), nil); err != nil {
		return errors.Wrap(err, "Connection", "SetLoggerLevel", "set level of "+name)
	}
	c.logger.Debug("Logger level changed", "logger", name, "level", level)
	return nil
}

// Metadata returns the engine metadata
func (c *Connection) Metadata(ctx context.Context) (map[string]string, error) {
	root, err := c.session.Get(ctx, "engineMetadata", nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Metadata", "get engine metadata")
	}
	out := make(map[string]string)
	for _, item := range root.FindAll(".//meta") {
		if id, ok := item.Attr("id"); ok {
			out[id] = item.Text
		}
	}
	return out, nil
}

// MetadataKeys returns the engine metadata keys, sorted
func (c *Connection) MetadataKeys(ctx context.Context) ([]string, error) {
	md, err := c.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// SetMetadata stores one engine metadata value
func (c *Connection) SetMetadata(ctx context.Context, key, value string) error {
	if _, err := c.session.Put(ctx, "engineMetadata/"+key, nil, []byte(value)); err != nil {
		return errors.Wrap(err, "Connection", "SetMetadata", "set engine metadata "+key)
	}
	return nil
}

// DeleteMetadata removes engine metadata keys
func (c *Connection) DeleteMetadata(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := c.session.Delete(ctx, "engineMetadata/"+key, nil); err != nil {
			return errors.Wrap(err, "Connection", "DeleteMetadata", "delete engine metadata "+key)
		}
	}
	return nil
}
