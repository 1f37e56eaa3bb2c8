package conf

import (
	"strconv"
	"strings"

	jerrors "github.com/juju/errors"
	"gopkg.in/ini.v1"
)

// CommandLineArgs carries the options given on the command line.
type CommandLineArgs struct {
	ConfigPath string
}

// Cfg is the engine configuration, loaded from an ini file with coded
// defaults for every key.
type Cfg struct {
	Raw *ini.File

	// general
	DataDir  string
	LogError string
	LogInfos string
	LogLevel string

	// buffer pool
	BufferPoolPages int

	// volume defaults
	PageSize        int
	InitialPages    int64
	ExtensionPages  int64
	MaximumPages    int64
	LongRecordCodec string
	DebugChecks     bool
}

// NewCfg returns a Cfg populated with defaults.
func NewCfg() *Cfg {
	return &Cfg{
		Raw:             ini.Empty(),
		DataDir:         "data",
		LogError:        "",
		LogInfos:        "",
		LogLevel:        "info",
		BufferPoolPages: 1024,
		PageSize:        16384,
		InitialPages:    32,
		ExtensionPages:  32,
		MaximumPages:    1 << 20,
		LongRecordCodec: "snappy",
		DebugChecks:     false,
	}
}

// Load reads the ini file named by args, overriding defaults. A missing
// path leaves the defaults in place.
func (c *Cfg) Load(args *CommandLineArgs) *Cfg {
	if args == nil || args.ConfigPath == "" {
		return c
	}

	file, err := ini.Load(args.ConfigPath)
	if err != nil {
		// Keep defaults; the caller decides whether a bad config is fatal.
		return c
	}
	c.Raw = file

	general := file.Section("general")
	c.DataDir = general.Key("data_dir").MustString(c.DataDir)
	c.LogError = general.Key("log_error").MustString(c.LogError)
	c.LogInfos = general.Key("log_infos").MustString(c.LogInfos)
	c.LogLevel = general.Key("log_level").MustString(c.LogLevel)
	c.BufferPoolPages = general.Key("buffer_pool_pages").MustInt(c.BufferPoolPages)
	c.DebugChecks = general.Key("debug_checks").MustBool(c.DebugChecks)

	vol := file.Section("volume")
	c.PageSize = vol.Key("page_size").MustInt(c.PageSize)
	c.InitialPages = vol.Key("initial_pages").MustInt64(c.InitialPages)
	c.ExtensionPages = vol.Key("extension_pages").MustInt64(c.ExtensionPages)
	c.MaximumPages = vol.Key("maximum_pages").MustInt64(c.MaximumPages)
	c.LongRecordCodec = vol.Key("long_record_codec").MustString(c.LongRecordCodec)

	return c
}

// VolumeSpec is the parsed form of a volume specification string
// "path:pageSize:initialPages:extensionPages:maximumPages". Trailing
// components may be omitted and default from the configuration.
type VolumeSpec struct {
	Path           string
	PageSize       int
	InitialPages   int64
	ExtensionPages int64
	MaximumPages   int64
}

// ParseVolumeSpec parses a volume specification string against the defaults
// in c.
func (c *Cfg) ParseVolumeSpec(spec string) (VolumeSpec, error) {
	out := VolumeSpec{
		PageSize:       c.PageSize,
		InitialPages:   c.InitialPages,
		ExtensionPages: c.ExtensionPages,
		MaximumPages:   c.MaximumPages,
	}

	parts := strings.Split(spec, ":")
	if parts[0] == "" {
		return out, jerrors.Errorf("volume spec %q has no path", spec)
	}
	out.Path = parts[0]

	fields := []*int64{nil, nil, &out.InitialPages, &out.ExtensionPages, &out.MaximumPages}
	for i := 1; i < len(parts) && i < len(fields); i++ {
		if parts[i] == "" {
			continue
		}
		n, err := strconv.ParseInt(parts[i], 10, 64)
		if err != nil {
			return out, jerrors.Annotatef(err, "volume spec %q component %d", spec, i)
		}
		if i == 1 {
			out.PageSize = int(n)
		} else {
			*fields[i] = n
		}
	}

	return out, nil
}
