package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config hostSentry 的完整配置
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Session  SessionConfig  `mapstructure:"session"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox"`
	Volumes  VolumesConfig  `mapstructure:"volumes"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Scanners ScannersConfig `mapstructure:"scanners"`
	Rules    RulesConfig    `mapstructure:"rules"`
	General  GeneralConfig  `mapstructure:"general"`
	Sinks    SinksConfig    `mapstructure:"sinks"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`
}

type LoggingConfig struct {
	// Level: debug, info, warn, error
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SessionConfig 活动会话的来源
type SessionConfig struct {
	// Backend: "logind" 或 "static"
	Backend    string `mapstructure:"backend"`
	StaticUser string `mapstructure:"static_user"`
	LogindDir  string `mapstructure:"logind_dir"`
}

// MailboxConfig 跨进程邮箱通道
type MailboxConfig struct {
	// Dir 可以包含 [USERNAME]，每个周期按活动用户解析
	Dir          string        `mapstructure:"dir"`
	Categories   []string      `mapstructure:"categories"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	RegionSize   int           `mapstructure:"region_size"`
	// RecoverAfter 连续多少次拿不到锁后重建通道
	RecoverAfter int `mapstructure:"recover_after"`
}

type VolumesConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Letters 固定的盘符映射，例如 C -> /
	Letters map[string]string `mapstructure:"letters"`
	// RemovableRoots 这些目录下的挂载点动态分配盘符
	RemovableRoots []string `mapstructure:"removable_roots"`
	Push           bool     `mapstructure:"push"`
}

type MonitorConfig struct {
	// Backend: "fanotify" 或 "fsnotify"
	Backend     string        `mapstructure:"backend"`
	BatchWindow time.Duration `mapstructure:"batch_window"`
	MaxBatchAge time.Duration `mapstructure:"max_batch_age"`
	Paths       []string      `mapstructure:"paths"`
	// WatchTypes 插入后自动加入监控的卷类型
	WatchTypes []string `mapstructure:"watch_types"`
	Inspect    bool     `mapstructure:"inspect"`
}

// BrowserConfig 一个浏览器历史存储
type BrowserConfig struct {
	Name string `mapstructure:"name"`
	// Schema: firefox, chromium, safari-db, safari-plist
	Schema string `mapstructure:"schema"`
	Path   string `mapstructure:"path"`
}

type RecentConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	Delay   time.Duration `mapstructure:"delay"`
}

type ScannersConfig struct {
	Interval time.Duration   `mapstructure:"interval"`
	CacheDir string          `mapstructure:"cache_dir"`
	Browsers []BrowserConfig `mapstructure:"browsers"`
	Recent   RecentConfig    `mapstructure:"recent"`
}

// RulesConfig 忽略规则
type RulesConfig struct {
	UsersRoot         string   `mapstructure:"users_root"`
	AppDataDirs       []string `mapstructure:"appdata_dirs"`
	SystemPrefixes    []string `mapstructure:"system_prefixes"`
	ProgramPrefixes   []string `mapstructure:"program_prefixes"`
	ExecutableExts    []string `mapstructure:"executable_exts"`
	IgnoredExts       []string `mapstructure:"ignored_exts"`
	IgnoredNames      []string `mapstructure:"ignored_names"`
	IgnoredFragments  []string `mapstructure:"ignored_fragments"`
	ExtraAssociations []string `mapstructure:"extra_associations"`
}

type GeneralConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PublicIPInterval  time.Duration `mapstructure:"public_ip_interval"`
	PublicIPRetry     time.Duration `mapstructure:"public_ip_retry"`
	PublicIPURL       string        `mapstructure:"public_ip_url"`
	PublicIPTimeout   time.Duration `mapstructure:"public_ip_timeout"`
}

type SinksConfig struct {
	Log            bool          `mapstructure:"log"`
	File           string        `mapstructure:"file"`
	SQLite         string        `mapstructure:"sqlite"`
	DeliverTimeout time.Duration `mapstructure:"deliver_timeout"`
}

type ShutdownConfig struct {
	Drain   bool          `mapstructure:"drain"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Development: true},
		Session: SessionConfig{
			Backend:   "logind",
			LogindDir: "/run/systemd/sessions",
		},
		Mailbox: MailboxConfig{
			Dir:          "/dev/shm/hostsentry",
			Categories:   []string{"Keyboard", "Window", "Clipboard", "CopyFiles", "Edge"},
			PollInterval: 500 * time.Millisecond,
			LockTimeout:  2 * time.Second,
			RegionSize:   64 * 1024,
			RecoverAfter: 10,
		},
		Volumes: VolumesConfig{
			PollInterval:   time.Second,
			Letters:        map[string]string{"C": "/"},
			RemovableRoots: []string{"/media", "/run/media", "/mnt"},
			Push:           true,
		},
		Monitor: MonitorConfig{
			Backend:     "fanotify",
			BatchWindow: 500 * time.Millisecond,
			MaxBatchAge: 2 * time.Second,
			Paths:       []string{"/home"},
			WatchTypes:  []string{"Removable", "Network"},
			Inspect:     true,
		},
		Scanners: ScannersConfig{
			Interval: time.Second,
			CacheDir: "/var/cache/hostsentry",
			Browsers: DefaultBrowsers(),
			Recent: RecentConfig{
				Enabled: true,
				Path:    "/home/[USERNAME]/.local/share/recently-used.xbel",
				Delay:   3 * time.Second,
			},
		},
		Rules: DefaultRules(runtime.GOOS),
		General: GeneralConfig{
			HeartbeatInterval: 5 * time.Minute,
			PublicIPInterval:  30 * time.Minute,
			PublicIPRetry:     5 * time.Minute,
			PublicIPURL:       "https://checkip.amazonaws.com",
			PublicIPTimeout:   10 * time.Second,
		},
		Sinks: SinksConfig{
			Log:            true,
			File:           "/var/log/hostsentry/Insights.txt",
			DeliverTimeout: 5 * time.Second,
		},
		Shutdown: ShutdownConfig{Drain: true, Timeout: 5 * time.Second},
	}
}

// DefaultBrowsers 已知浏览器的历史文件位置
func DefaultBrowsers() []BrowserConfig {
	const home = "/home/[USERNAME]"
	return []BrowserConfig{
		{Name: "Firefox", Schema: "firefox", Path: home + "/.mozilla/firefox"},
		{Name: "SeaMonkey", Schema: "firefox", Path: home + "/.mozilla/seamonkey"},
		{Name: "PaleMoon", Schema: "firefox", Path: home + "/.moonchild productions/pale moon"},
		{Name: "Chrome", Schema: "chromium", Path: home + "/.config/google-chrome/Default/History"},
		{Name: "ChromeBeta", Schema: "chromium", Path: home + "/.config/google-chrome-beta/Default/History"},
		{Name: "Chromium", Schema: "chromium", Path: home + "/.config/chromium/Default/History"},
		{Name: "Brave", Schema: "chromium", Path: home + "/.config/BraveSoftware/Brave-Browser/Default/History"},
		{Name: "Edge", Schema: "chromium", Path: home + "/.config/microsoft-edge/Default/History"},
		{Name: "Vivaldi", Schema: "chromium", Path: home + "/.config/vivaldi/Default/History"},
		{Name: "Opera", Schema: "chromium", Path: home + "/.config/opera/History"},
		{Name: "Yandex", Schema: "chromium", Path: home + "/.config/yandex-browser/Default/History"},
	}
}

// DefaultRules 按平台给出忽略规则默认值
func DefaultRules(goos string) RulesConfig {
	common := RulesConfig{
		IgnoredExts:  []string{".tmp", ".lnk", ".lock", ".swp", ".swx", ".part", ".crdownload", ".partial"},
		IgnoredNames: []string{"desktop.ini", "thumbs.db", ".ds_store", "insights.txt"},
		ExtraAssociations: []string{
			".txt", ".md", ".csv", ".log", ".json", ".yaml", ".yml", ".ini", ".conf",
			".html", ".htm", ".odt", ".ods", ".odp", ".key", ".pages", ".numbers",
		},
	}
	if goos == "windows" {
		common.UsersRoot = `C:\Users`
		common.AppDataDirs = []string{"AppData"}
		common.SystemPrefixes = []string{`C:\Windows`, `C:\ProgramData`}
		common.ProgramPrefixes = []string{`C:\Program Files`, `C:\Program Files (x86)`}
		common.ExecutableExts = []string{".exe", ".dll", ".msi", ".bat", ".cmd", ".ps1", ".sys", ".scr", ".com"}
		common.IgnoredFragments = []string{
			"$RECYCLE.BIN", "$WINDOWS", "Config.Msi", "System Volume Information",
			"WindowsApps", "SystemApps", "rempl",
		}
		return common
	}
	common.UsersRoot = "/home"
	common.AppDataDirs = []string{".cache", ".local", ".config", ".mozilla", ".var"}
	common.SystemPrefixes = []string{"/proc", "/sys", "/dev", "/run", "/tmp", "/var", "/etc", "/boot", "/root", "/snap"}
	common.ProgramPrefixes = []string{"/usr", "/opt"}
	common.ExecutableExts = []string{"", ".sh", ".so", ".appimage", ".run", ".bin", ".deb", ".rpm", ".exe"}
	common.IgnoredFragments = []string{"/.Trash", "/.Trash-", "/lost+found", "$RECYCLE.BIN", "System Volume Information"}
	return common
}

// SetDefaults 把默认值注册到 viper
func SetDefaults() {
	d := Default()

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.development", d.Logging.Development)

	viper.SetDefault("session.backend", d.Session.Backend)
	viper.SetDefault("session.static_user", d.Session.StaticUser)
	viper.SetDefault("session.logind_dir", d.Session.LogindDir)

	viper.SetDefault("mailbox.dir", d.Mailbox.Dir)
	viper.SetDefault("mailbox.categories", d.Mailbox.Categories)
	viper.SetDefault("mailbox.poll_interval", d.Mailbox.PollInterval)
	viper.SetDefault("mailbox.lock_timeout", d.Mailbox.LockTimeout)
	viper.SetDefault("mailbox.region_size", d.Mailbox.RegionSize)
	viper.SetDefault("mailbox.recover_after", d.Mailbox.RecoverAfter)

	viper.SetDefault("volumes.poll_interval", d.Volumes.PollInterval)
	viper.SetDefault("volumes.letters", d.Volumes.Letters)
	viper.SetDefault("volumes.removable_roots", d.Volumes.RemovableRoots)
	viper.SetDefault("volumes.push", d.Volumes.Push)

	viper.SetDefault("monitor.backend", d.Monitor.Backend)
	viper.SetDefault("monitor.batch_window", d.Monitor.BatchWindow)
	viper.SetDefault("monitor.max_batch_age", d.Monitor.MaxBatchAge)
	viper.SetDefault("monitor.paths", d.Monitor.Paths)
	viper.SetDefault("monitor.watch_types", d.Monitor.WatchTypes)
	viper.SetDefault("monitor.inspect", d.Monitor.Inspect)

	viper.SetDefault("scanners.interval", d.Scanners.Interval)
	viper.SetDefault("scanners.cache_dir", d.Scanners.CacheDir)
	viper.SetDefault("scanners.browsers", d.Scanners.Browsers)
	viper.SetDefault("scanners.recent.enabled", d.Scanners.Recent.Enabled)
	viper.SetDefault("scanners.recent.path", d.Scanners.Recent.Path)
	viper.SetDefault("scanners.recent.delay", d.Scanners.Recent.Delay)

	viper.SetDefault("rules.users_root", d.Rules.UsersRoot)
	viper.SetDefault("rules.appdata_dirs", d.Rules.AppDataDirs)
	viper.SetDefault("rules.system_prefixes", d.Rules.SystemPrefixes)
	viper.SetDefault("rules.program_prefixes", d.Rules.ProgramPrefixes)
	viper.SetDefault("rules.executable_exts", d.Rules.ExecutableExts)
	viper.SetDefault("rules.ignored_exts", d.Rules.IgnoredExts)
	viper.SetDefault("rules.ignored_names", d.Rules.IgnoredNames)
	viper.SetDefault("rules.ignored_fragments", d.Rules.IgnoredFragments)
	viper.SetDefault("rules.extra_associations", d.Rules.ExtraAssociations)

	viper.SetDefault("general.heartbeat_interval", d.General.HeartbeatInterval)
	viper.SetDefault("general.public_ip_interval", d.General.PublicIPInterval)
	viper.SetDefault("general.public_ip_retry", d.General.PublicIPRetry)
	viper.SetDefault("general.public_ip_url", d.General.PublicIPURL)
	viper.SetDefault("general.public_ip_timeout", d.General.PublicIPTimeout)

	viper.SetDefault("sinks.log", d.Sinks.Log)
	viper.SetDefault("sinks.file", d.Sinks.File)
	viper.SetDefault("sinks.sqlite", d.Sinks.SQLite)
	viper.SetDefault("sinks.deliver_timeout", d.Sinks.DeliverTimeout)

	viper.SetDefault("shutdown.drain", d.Shutdown.Drain)
	viper.SetDefault("shutdown.timeout", d.Shutdown.Timeout)
}

// Init 设置配置文件搜索路径和环境变量前缀，file 为空时按默认位置查找
func Init(file string) error {
	SetDefaults()
	viper.SetEnvPrefix("HOSTSENTRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if file == "" {
		file = os.Getenv("HOSTSENTRY_CONFIG")
	}
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
	}
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load 从 viper 读取配置并校验
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir 系统级配置目录
func ConfigDir() string {
	if dir := os.Getenv("HOSTSENTRY_CONFIG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/etc", "hostsentry")
}

// ConfigFile 默认配置文件路径
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
