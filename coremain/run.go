package coremain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pmkol/sharedlist/mlog"
)

const envPrefix = "SHAREDLIST"

// envKeys can be set by env without being present in the config file,
// e.g. SHAREDLIST_SERVER_LISTEN.
var envKeys = []string{
	"log.level",
	"log.file",
	"log.production",
	"api.http",
	"server.listen",
	"server.cert",
	"server.key",
	"server.listen_h3",
	"server.proxy_protocol",
	"queues.default_max_len",
	"cache.type",
	"cache.size",
	"cache.redis",
}

type serverFlags struct {
	c         string
	dir       string
	cpu       int
	asService bool
}

var (
	debugLevel int

	rootCmd = &cobra.Command{
		Use: "sharedlist",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugLevel > 0 {
				mlog.SetLevel(zap.DebugLevel)
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().CountVarP(&debugLevel, "debug", "v", "enable debug logging, overrides log.level")

	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [-c config_file] [-d working_dir]",
		Short: "Start sharedlist main program.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sf.asService {
				svc, err := service.New(&serverService{f: sf}, svcCfg)
				if err != nil {
					return fmt.Errorf("failed to init service, %w", err)
				}
				return svc.Run()
			}
			return StartServer(sf)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.AddCommand(startCmd)
	fs := startCmd.Flags()
	fs.StringVarP(&sf.c, "config", "c", "", "config file")
	fs.StringVarP(&sf.dir, "dir", "d", "", "working dir")
	fs.IntVar(&sf.cpu, "cpu", 0, "set runtime.GOMAXPROCS")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a service")
	fs.MarkHidden("as-service")

	rootCmd.AddCommand(newBenchCmd(), newConfigCmd())

	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage sharedlist as a system service.",
	}
	serviceCmd.PersistentPreRunE = initService
	serviceCmd.AddCommand(
		newSvcInstallCmd(),
		newSvcUninstallCmd(),
		newSvcStartCmd(),
		newSvcStopCmd(),
		newSvcRestartCmd(),
		newSvcStatusCmd(),
	)
	rootCmd.AddCommand(serviceCmd)
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

func newConfigCmd() *cobra.Command {
	var c string
	showCmd := &cobra.Command{
		Use:   "show [-c config_file]",
		Short: "Print the effective config, with includes, env and defaults applied.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfigWithInclude(c)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	showCmd.Flags().StringVarP(&c, "config", "c", "", "config file")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Config helpers.",
	}
	configCmd.AddCommand(showCmd)
	return configCmd
}

// prepare applies sf and builds a SharedList that is ready to Run.
func prepare(sf *serverFlags) (*SharedList, error) {
	if sf.cpu > 0 {
		runtime.GOMAXPROCS(sf.cpu)
	}

	if len(sf.dir) > 0 {
		err := os.Chdir(sf.dir)
		if err != nil {
			return nil, fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	cfg, v, err := loadConfigWithInclude(sf.c)
	if err != nil {
		return nil, err
	}

	m, err := NewSharedList(cfg)
	if err != nil {
		return nil, err
	}
	if debugLevel > 0 {
		m.level.SetLevel(zap.DebugLevel)
	} else if len(v.ConfigFileUsed()) > 0 {
		watchLogLevel(v, m)
	}
	return m, nil
}

func StartServer(sf *serverFlags) error {
	m, err := prepare(sf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		m.logger.Info("exit signal received")
		m.sc.SendCloseSignal(nil)
	}()

	if err := m.Run(); err != nil {
		return fmt.Errorf("sharedlist exited, %w", err)
	}
	return nil
}

// watchLogLevel applies log.level changes of the config file to m.
func watchLogLevel(v *viper.Viper, m *SharedList) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		lvl, err := mlog.ParseLevel(v.GetString("log.level"))
		if err != nil {
			m.logger.Warn("config changed with invalid log level", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if m.level.Level() != lvl {
			m.level.SetLevel(lvl)
			m.logger.Info("log level changed", zap.Stringer("level", lvl))
		}
	})
	v.WatchConfig()
}

func loadConfigWithInclude(filePath string) (*Config, *viper.Viper, error) {
	cfg, v, err := loadConfig(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("fail to load config, %w", err)
	}

	if fileUsed := v.ConfigFileUsed(); len(fileUsed) > 0 {
		if err := mergeInclude(cfg, 0, []string{fileUsed}); err != nil {
			return nil, nil, fmt.Errorf("failed to load sub config file, %w", err)
		}
	}
	cfg.setDefaults()
	return cfg, v, nil
}

// loadConfig load a config from a file. If filePath is empty, it will
// automatically search and load a file which name start with "config".
// If no such file exists, an empty config with env overrides is returned.
func loadConfig(filePath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config: %w", err)
		}
		mlog.L().Info("no config file found, using defaults")
	}

	decoderOpt := func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
		cfg.TagName = "yaml"
		cfg.WeaklyTypedInput = true
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, v, nil
}

// mergeInclude fills the sections cfg leaves empty from its included
// files. Includes are resolved relative to the including file, and later
// includes take precedence over earlier ones.
func mergeInclude(cfg *Config, depth int, paths []string) error {
	depth++
	if depth > 8 {
		return fmt.Errorf("maximum include depth reached, include path is %s", strings.Join(paths, " -> "))
	}

	baseDir := filepath.Dir(paths[len(paths)-1])
	for i := len(cfg.Include) - 1; i >= 0; i-- {
		subCfgFile := cfg.Include[i]
		if !filepath.IsAbs(subCfgFile) {
			subCfgFile = filepath.Join(baseDir, subCfgFile)
		}
		subPaths := append(paths[:len(paths):len(paths)], subCfgFile)
		mlog.L().Info("reading sub config", zap.String("file", subCfgFile))
		subCfg, _, err := loadConfig(subCfgFile)
		if err != nil {
			return fmt.Errorf("failed to load sub config, %w", err)
		}
		if err := mergeInclude(subCfg, depth, subPaths); err != nil {
			return err
		}
		cfg.fillFrom(subCfg)
	}
	return nil
}

func (c *Config) fillFrom(sub *Config) {
	if c.Log == (mlog.LogConfig{}) {
		c.Log = sub.Log
	}
	if c.API == (APIConfig{}) {
		c.API = sub.API
	}
	if c.Server == (ServerConfig{}) {
		c.Server = sub.Server
	}
	if c.Queues.DefaultMaxLen == 0 {
		c.Queues.DefaultMaxLen = sub.Queues.DefaultMaxLen
	}
	for name, n := range sub.Queues.MaxLen {
		if _, ok := c.Queues.MaxLen[name]; ok {
			continue
		}
		if c.Queues.MaxLen == nil {
			c.Queues.MaxLen = make(map[string]int)
		}
		c.Queues.MaxLen[name] = n
	}
	if c.Cache == (CacheConfig{}) {
		c.Cache = sub.Cache
	}
	if c.Bench == (BenchConfig{}) {
		c.Bench = sub.Bench
	}
}
