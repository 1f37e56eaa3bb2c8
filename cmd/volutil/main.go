package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pbeaman/persistit-sub015/buffer"
	"github.com/pbeaman/persistit-sub015/conf"
	"github.com/pbeaman/persistit-sub015/logger"
	"github.com/pbeaman/persistit-sub015/volume"
)

const help = `volutil - volume inspection and maintenance

Usage:
  volutil [-configPath my.ini] create <path[:pageSize:initial:extension:max]>
  volutil [-configPath my.ini] info   <path>
  volutil [-configPath my.ini] trees  <path>
`

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "path to ini configuration file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := &conf.CommandLineArgs{ConfigPath: configPath}
	config := conf.NewCfg().Load(args)

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %s\n", err)
		os.Exit(1)
	}

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)
	target := flag.Arg(1)

	pool := buffer.NewPool(config.BufferPoolPages)

	var err error
	switch command {
	case "create":
		err = runCreate(config, pool, target)
	case "info":
		err = runInfo(config, pool, target)
	case "trees":
		err = runTrees(config, pool, target)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s %s: %s", command, target, err)
		fmt.Fprintf(os.Stderr, "%s: %s\n", command, err)
		os.Exit(1)
	}
}

func specFor(config *conf.Cfg, arg string) (volume.Spec, error) {
	vs, err := config.ParseVolumeSpec(arg)
	if err != nil {
		return volume.Spec{}, err
	}
	name := strings.TrimSuffix(filepath.Base(vs.Path), filepath.Ext(vs.Path))
	return volume.Spec{
		Path:            vs.Path,
		Name:            name,
		PageSize:        vs.PageSize,
		InitialPages:    vs.InitialPages,
		ExtensionPages:  vs.ExtensionPages,
		MaximumPages:    vs.MaximumPages,
		LongRecordCodec: config.LongRecordCodec,
		DebugChecks:     config.DebugChecks,
	}, nil
}

func runCreate(config *conf.Cfg, pool *buffer.Pool, arg string) error {
	spec, err := specFor(config, arg)
	if err != nil {
		return err
	}
	v, err := volume.Create(spec, pool)
	if err != nil {
		return err
	}
	defer v.Close()

	fmt.Printf("created volume %s id=%d pageSize=%d pages=%d max=%d\n",
		v.Name(), v.ID(), v.PageSize(), v.PageCount(), spec.MaximumPages)
	return nil
}

func runInfo(config *conf.Cfg, pool *buffer.Pool, arg string) error {
	spec, err := specFor(config, arg)
	if err != nil {
		return err
	}
	spec.ReadOnly = true
	v, err := volume.Open(spec, pool)
	if err != nil {
		return err
	}
	defer v.Close()

	hdr := v.Header()
	stats := v.GatherStats()
	fmt.Printf("volume %s (%s)\n", v.Name(), v.Path())
	fmt.Printf("  id:              %d\n", v.ID())
	fmt.Printf("  page size:       %d\n", v.PageSize())
	fmt.Printf("  pages:           %d (max %d)\n", stats.PageCount, hdr.MaximumPages)
	fmt.Printf("  first available: %d\n", stats.FirstAvailablePage)
	fmt.Printf("  highest used:    %d\n", stats.HighestPageUsed)
	fmt.Printf("  directory root:  %d\n", stats.DirectoryRoot)
	fmt.Printf("  garbage root:    %d\n", stats.GarbageRoot)
	fmt.Printf("  counters:        get=%d fetch=%d traverse=%d store=%d remove=%d\n",
		stats.Gets, stats.Fetches, stats.Traverses, stats.Stores, stats.Removes)
	return nil
}

func runTrees(config *conf.Cfg, pool *buffer.Pool, arg string) error {
	spec, err := specFor(config, arg)
	if err != nil {
		return err
	}
	spec.ReadOnly = true
	v, err := volume.Open(spec, pool)
	if err != nil {
		return err
	}
	defer v.Close()

	names, err := v.ListTreeNames()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no trees")
		return nil
	}
	for _, name := range names {
		t, err := v.GetTree(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-32s root=%d depth=%d generation=%d\n",
			name, t.Root(), t.Depth(), t.Generation())
	}
	return nil
}
