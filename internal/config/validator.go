package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
)

// ValidationError 单个校验失败
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors 校验失败集合
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func ValidLogLevels() []string { return []string{"debug", "info", "warn", "error"} }

func ValidSessionBackends() []string { return []string{"logind", "static"} }

func ValidMonitorBackends() []string { return []string{"fanotify", "fsnotify"} }

func ValidBrowserSchemas() []string {
	return []string{"firefox", "chromium", "safari-db", "safari-plist"}
}

const (
	minRegionSize = 256
	maxRegionSize = 16 << 20
)

// Validate 返回所有发现的校验错误
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{"logging.level", c.Logging.Level,
			fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", "))})
	}

	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateMailbox()...)
	errors = append(errors, c.validateVolumes()...)
	errors = append(errors, c.validateMonitor()...)
	errors = append(errors, c.validateScanners()...)

	errors = append(errors, positive("general.heartbeat_interval", c.General.HeartbeatInterval)...)
	errors = append(errors, positive("general.public_ip_interval", c.General.PublicIPInterval)...)
	errors = append(errors, positive("general.public_ip_retry", c.General.PublicIPRetry)...)
	errors = append(errors, positive("general.public_ip_timeout", c.General.PublicIPTimeout)...)
	errors = append(errors, positive("sinks.deliver_timeout", c.Sinks.DeliverTimeout)...)

	if c.Rules.UsersRoot == "" {
		errors = append(errors, ValidationError{"rules.users_root", c.Rules.UsersRoot, "must not be empty"})
	}
	return errors
}

func positive(field string, d time.Duration) []ValidationError {
	if d <= 0 {
		return []ValidationError{{field, d, "must be positive"}}
	}
	return nil
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidSessionBackends(), c.Session.Backend) {
		errors = append(errors, ValidationError{"session.backend", c.Session.Backend,
			fmt.Sprintf("must be one of: %s", strings.Join(ValidSessionBackends(), ", "))})
	}
	if c.Session.Backend == "static" && c.Session.StaticUser == "" {
		errors = append(errors, ValidationError{"session.static_user", c.Session.StaticUser,
			"is required when session.backend is static"})
	}
	return errors
}

func (c *Config) validateMailbox() []ValidationError {
	var errors []ValidationError
	m := c.Mailbox
	if m.Dir == "" {
		errors = append(errors, ValidationError{"mailbox.dir", m.Dir, "must not be empty"})
	}
	seen := make(map[string]bool)
	for _, cat := range m.Categories {
		if cat == "" || strings.ContainsAny(cat, `/\`) {
			errors = append(errors, ValidationError{"mailbox.categories", cat, "must be a plain name"})
		}
		if seen[cat] {
			errors = append(errors, ValidationError{"mailbox.categories", cat, "duplicate category"})
		}
		seen[cat] = true
	}
	errors = append(errors, positive("mailbox.poll_interval", m.PollInterval)...)
	errors = append(errors, positive("mailbox.lock_timeout", m.LockTimeout)...)
	if m.RegionSize < minRegionSize || m.RegionSize > maxRegionSize {
		errors = append(errors, ValidationError{"mailbox.region_size", m.RegionSize,
			fmt.Sprintf("must be between %d and %d", minRegionSize, maxRegionSize)})
	}
	if m.RecoverAfter < 1 {
		errors = append(errors, ValidationError{"mailbox.recover_after", m.RecoverAfter, "must be at least 1"})
	}
	return errors
}

func (c *Config) validateVolumes() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("volumes.poll_interval", c.Volumes.PollInterval)...)
	for letter, root := range c.Volumes.Letters {
		if len(letter) != 1 || model.DriveIndex(letter[0]) < 0 {
			errors = append(errors, ValidationError{"volumes.letters", letter, "key must be a single drive letter A-Z"})
		}
		if root == "" {
			errors = append(errors, ValidationError{"volumes.letters." + letter, root, "must not be empty"})
		}
	}
	return errors
}

func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidMonitorBackends(), c.Monitor.Backend) {
		errors = append(errors, ValidationError{"monitor.backend", c.Monitor.Backend,
			fmt.Sprintf("must be one of: %s", strings.Join(ValidMonitorBackends(), ", "))})
	}
	errors = append(errors, positive("monitor.batch_window", c.Monitor.BatchWindow)...)
	if c.Monitor.MaxBatchAge < c.Monitor.BatchWindow {
		errors = append(errors, ValidationError{"monitor.max_batch_age", c.Monitor.MaxBatchAge,
			"must not be shorter than monitor.batch_window"})
	}
	for _, wt := range c.Monitor.WatchTypes {
		if dt, ok := model.ParseDriveType(wt); !ok || !dt.Supported() {
			errors = append(errors, ValidationError{"monitor.watch_types", wt, "unknown or unsupported drive type"})
		}
	}
	return errors
}

func (c *Config) validateScanners() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("scanners.interval", c.Scanners.Interval)...)
	if c.Scanners.CacheDir == "" {
		errors = append(errors, ValidationError{"scanners.cache_dir", c.Scanners.CacheDir, "must not be empty"})
	}
	names := make(map[string]bool)
	for i, b := range c.Scanners.Browsers {
		field := fmt.Sprintf("scanners.browsers[%d]", i)
		if b.Name == "" {
			errors = append(errors, ValidationError{field + ".name", b.Name, "must not be empty"})
		} else if names[strings.ToLower(b.Name)] {
			errors = append(errors, ValidationError{field + ".name", b.Name, "duplicate browser name"})
		}
		names[strings.ToLower(b.Name)] = true
		if !slices.Contains(ValidBrowserSchemas(), b.Schema) {
			errors = append(errors, ValidationError{field + ".schema", b.Schema,
				fmt.Sprintf("must be one of: %s", strings.Join(ValidBrowserSchemas(), ", "))})
		}
		if b.Path == "" {
			errors = append(errors, ValidationError{field + ".path", b.Path, "must not be empty"})
		}
	}
	if c.Scanners.Recent.Enabled && c.Scanners.Recent.Path == "" {
		errors = append(errors, ValidationError{"scanners.recent.path", "", "is required when recent scanning is enabled"})
	}
	return errors
}

// WatchDriveTypes 解析 monitor.watch_types
func (c *Config) WatchDriveTypes() []model.DriveType {
	var out []model.DriveType
	for _, wt := range c.Monitor.WatchTypes {
		if dt, ok := model.ParseDriveType(wt); ok {
			out = append(out, dt)
		}
	}
	return out
}
