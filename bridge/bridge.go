// Package bridge is the entry point for callers embedding memlink. Init
// builds the single Context of the process; every Context method reports
// failures as a *Fault with a stable Status code.
package bridge

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"memlink/accessor"
	"memlink/attacher"
	"memlink/config"
	"memlink/handle_table"
	"memlink/process"
	"memlink/process/memory_map"
	"memlink/process_platform"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

const (
	// FatalMessage is written to stderr when Init runs twice.
	FatalMessage = "multiple initialization of memlink core"

	// ExitMultipleInit is the exit code of a second Init.
	ExitMultipleInit = 70
)

var (
	initialized atomic.Bool

	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

type settings struct {
	config     *config.Config
	configPath string
	platform   process.Platform
}

// Option customizes Init.
type Option func(*settings)

// WithConfig uses c instead of loading the config file.
func WithConfig(c *config.Config) Option {
	return func(s *settings) { s.config = c }
}

// WithConfigPath loads the config file at path.
func WithConfigPath(path string) Option {
	return func(s *settings) { s.configPath = path }
}

// WithPlatform replaces the OS backend.
func WithPlatform(p process.Platform) Option {
	return func(s *settings) { s.platform = p }
}

// Context holds the platform backend and the handle table. It is safe for
// concurrent use.
type Context struct {
	platform process.Platform
	table    *handle_table.HandleTable
	attacher *attacher.Attacher
	accessor *accessor.Accessor
	config   *config.Config
	log      *logger.Logger
}

// Init builds the Context of this process. It may be called once per
// process lifetime: a second call writes FatalMessage to stderr and exits
// with ExitMultipleInit before doing anything else.
func Init(opts ...Option) *Context {
	if !initialized.CompareAndSwap(false, true) {
		fmt.Fprintln(stderr, FatalMessage)
		exit(ExitMultipleInit)
		return nil
	}
	return newContext(opts...)
}

func newContext(opts ...Option) *Context {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "memlink"))

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	if s.config == nil {
		c, err := config.Load(s.configPath)
		if err != nil {
			log.Warn("Using default config: ", err)
			c = config.Default()
		}
		s.config = c
	}

	if s.platform == nil {
		p, err := process_platform.New(process_platform.Options{MapCacheSize: s.config.MapCacheSize})
		if err != nil {
			log.Warn("Platform backend unavailable: ", err)
			p = process_platform.Unsupported{OS: runtime.GOOS}
		}
		s.platform = p
	}

	table := handle_table.New(s.platform)
	ctx := &Context{
		platform: s.platform,
		table:    table,
		attacher: attacher.New(s.platform, table),
		accessor: accessor.New(s.platform, table, accessor.Options{
			MaxTransferSize: process.ProcessMemorySize(s.config.MaxTransferSize),
			MaxChainDepth:   s.config.MaxChainDepth,
			ReadOnly:        s.config.ReadOnly,
		}),
		config: s.config,
		log:    log,
	}

	log.Infoln("Initialized on", s.platform.Name())
	return ctx
}

// Config returns the settings the Context was built with.
func (c *Context) Config() *config.Config {
	return c.config
}

// Accessor exposes the accessor for pointer chains and typed values.
func (c *Context) Accessor() *accessor.Accessor {
	return c.accessor
}

// AttachTo attaches to pid. Attaching a running, already attached pid
// returns the same id.
func (c *Context) AttachTo(pid int) (process.HandleID, error) {
	id, _, err := c.attacher.Attach(process.ProcessID(pid))
	if err != nil {
		return 0, fault(err)
	}
	return id, nil
}

// ReadBytes reads n bytes at addr. On a partial read the Fault carries the
// bytes obtained in Partial.
func (c *Context) ReadBytes(id process.HandleID, addr uint64, n uint64) ([]byte, error) {
	data, err := c.accessor.Read(id, process.ProcessMemoryAddress(addr), process.ProcessMemorySize(n))
	if err != nil {
		return nil, fault(err)
	}
	return data, nil
}

// WriteBytes writes data at addr and returns the number of bytes written.
func (c *Context) WriteBytes(id process.HandleID, addr uint64, data []byte) (int, error) {
	n, err := c.accessor.Write(id, process.ProcessMemoryAddress(addr), data)
	return n, fault(err)
}

// Detach releases id. Detaching an unknown or detached id does nothing.
func (c *Context) Detach(id process.HandleID) error {
	return fault(c.table.Release(id))
}

// BaseAddress returns the load address of the main image of id's target.
func (c *Context) BaseAddress(id process.HandleID) (uint64, error) {
	base, err := c.accessor.BaseAddress(id)
	if err != nil {
		return 0, fault(err)
	}
	return uint64(base), nil
}

// Regions returns the memory map of id's target.
func (c *Context) Regions(id process.HandleID) ([]memory_map.MemoryMapItem, error) {
	items, err := c.accessor.Regions(id)
	if err != nil {
		return nil, fault(err)
	}
	return items, nil
}

// Teardown detaches every handle. The Context stays usable and Init still
// may not be called again.
func (c *Context) Teardown() error {
	n := c.table.Len()
	err := c.table.ReleaseAll()
	c.log.Infoln("Teardown released", n, "handles")
	return fault(err)
}
