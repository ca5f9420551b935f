// Package cmdline parses the boot command line spec.md §6 describes: a
// whitespace-separated stream of key=value tokens the setup code hands
// the kernel alongside the rest of the boot information structure.
//
// pflag doesn't parse a freeform "k=v k=v ..." blob on its own — it
// expects a conventional argv with leading dashes — so Tokenize splits
// the raw string into key/value pairs first. Recognized keys are then
// replayed into a pflag.FlagSet as synthetic "--key=value" arguments;
// every flag is a plain string, so the enum and range checks for
// pae/serial_*/vga_enable are done by Parse itself afterwards. A
// DEBUG_DUMP_* key is recorded in Options.DebugDumps and warns if its
// value is not a boolean. Any other key the FlagSet doesn't know about
// is never invalid by itself: it is recorded in Options.Extra for the
// caller to export to the loader process as an environment variable,
// mirroring spec.md §6's "export unrecognized keys as environment
// variables."
package cmdline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/jinuekernel/jinue/internal/constants"
)

// PAEMode selects the paging mode the kernel will attempt at boot.
type PAEMode int

const (
	// PAEAuto enables PAE when the CPU advertises both PAE and NX,
	// falling back to non-PAE paging otherwise.
	PAEAuto PAEMode = iota
	// PAEDisable forces non-PAE paging even if the CPU supports PAE.
	PAEDisable
	// PAERequire makes a missing PAE/NX capability a fatal boot error.
	PAERequire
)

func (m PAEMode) String() string {
	switch m {
	case PAEAuto:
		return "auto"
	case PAEDisable:
		return "disable"
	case PAERequire:
		return "require"
	default:
		return "unknown"
	}
}

var paeByName = map[string]PAEMode{
	"auto":    PAEAuto,
	"disable": PAEDisable,
	"require": PAERequire,
}

// serialPortAliases maps every spelling spec.md §6's serial_dev and
// serial_ioport accept to the I/O port it names. serial_ioport itself
// also accepts a bare decimal or hex integer, handled separately.
var serialPortAliases = map[string]int{
	"0": 0x3f8, "1": 0x2f8, "2": 0x3e8, "3": 0x2e8,

	"ttyS0": 0x3f8, "ttyS1": 0x2f8, "ttyS2": 0x3e8, "ttyS3": 0x2e8,

	"/dev/ttyS0": 0x3f8, "/dev/ttyS1": 0x2f8, "/dev/ttyS2": 0x3e8, "/dev/ttyS3": 0x2e8,

	"com1": 0x3f8, "com2": 0x2f8, "com3": 0x3e8, "com4": 0x2e8,
	"COM1": 0x3f8, "COM2": 0x2f8, "COM3": 0x3e8, "COM4": 0x2e8,
}

var validBaudRates = map[int]bool{
	300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 14400: true, 19200: true, 38400: true, 57600: true,
	115200: true,
}

const debugDumpPrefix = "DEBUG_DUMP_"

// Options is the parsed, validated form of the boot command line.
// Fields start at the same defaults machine_cmdline_start_parsing
// establishes before any token is processed.
type Options struct {
	PAE            PAEMode
	SerialEnable   bool
	SerialBaudRate int
	SerialIOPort   int
	VGAEnable      bool

	// DebugDumps holds every DEBUG_DUMP_* key seen, keyed by the part of
	// the name after the prefix (e.g. "DEBUG_DUMP_PAGE_TABLES" ->
	// "PAGE_TABLES"), set to the boolean value it parsed to.
	DebugDumps map[string]bool

	// Extra holds every other unrecognized key=value pair, to be
	// exported as environment variables for the loader process.
	Extra map[string]string

	// Warnings accumulates one message per invalid recognized-key
	// value; an invalid value never aborts parsing, matching
	// machine_cmdline_report_errors's "warn and keep the default."
	Warnings []string
}

func defaults() *Options {
	return &Options{
		PAE:            PAEAuto,
		SerialEnable:   false,
		SerialBaudRate: constants.SerialDefaultBaudRate,
		SerialIOPort:   constants.SerialDefaultIOPort,
		VGAEnable:      true,
		DebugDumps:     map[string]bool{},
		Extra:          map[string]string{},
	}
}

// token is one key=value pair lifted from the raw command line. A key
// with no '=' is kept with an empty value so a malformed boolean/enum
// flag is still reported as a warning rather than silently dropped.
type token struct {
	key, value string
}

// Tokenize splits raw on whitespace and each resulting field on its
// first '=', the same "whitespace-separated key=value stream" shape
// spec.md §6 describes. Values cannot themselves contain whitespace;
// the real kernel's tokenizer has the same restriction since it scans
// the boot command line byte by byte with no quoting support.
func Tokenize(raw string) []token {
	fields := strings.Fields(raw)
	tokens := make([]token, 0, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		tokens = append(tokens, token{key: k, value: v})
	}
	return tokens
}

// Parse tokenizes and validates raw, returning fully-populated
// Options. Every recognized key with an invalid value falls back to
// its default and appends a warning instead of failing the parse,
// mirroring machine_cmdline_process_option/report_errors: the kernel
// boots degraded rather than not at all over a bad command-line value.
func Parse(raw string) *Options {
	opts := defaults()
	tokens := Tokenize(raw)

	fs := pflag.NewFlagSet("cmdline", pflag.ContinueOnError)
	fs.SetOutput(new(strings.Builder)) // usage/error text goes nowhere; warnings carry it instead
	pae := fs.String("pae", "auto", "")
	serialEnable := fs.String("serial_enable", "", "")
	serialBaudRate := fs.String("serial_baud_rate", "", "")
	serialIOPort := fs.String("serial_ioport", "", "")
	serialDev := fs.String("serial_dev", "", "")
	vgaEnable := fs.String("vga_enable", "", "")

	var args []string
	seen := map[string]bool{}
	for _, tok := range tokens {
		switch tok.key {
		case "pae", "serial_enable", "serial_baud_rate", "serial_ioport", "serial_dev", "vga_enable":
			args = append(args, fmt.Sprintf("--%s=%s", tok.key, tok.value))
			seen[tok.key] = true
		case "":
			// an '=' with nothing before it: not a recognizable key.
		default:
			recordUnrecognized(opts, tok)
		}
	}

	// Every flag here is registered as a plain string, so fs.Parse can
	// only fail on a FlagSet-level problem (e.g. a stray "--"), never on
	// the value itself — value-level validation happens below, per
	// field, so an invalid value warns instead of aborting the parse.
	if err := fs.Parse(args); err != nil {
		opts.Warnings = append(opts.Warnings, fmt.Sprintf("command line: %v", err))
		return opts
	}

	if seen["pae"] {
		if mode, ok := paeByName[*pae]; ok {
			opts.PAE = mode
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'pae'")
		}
	}

	if seen["serial_enable"] {
		if b, ok := parseBool(*serialEnable); ok {
			opts.SerialEnable = b
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'serial_enable'")
		}
	}

	if seen["vga_enable"] {
		if b, ok := parseBool(*vgaEnable); ok {
			opts.VGAEnable = b
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'vga_enable'")
		}
	}

	if seen["serial_baud_rate"] {
		if n, err := strconv.Atoi(*serialBaudRate); err == nil && validBaudRates[n] {
			opts.SerialBaudRate = n
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'serial_baud_rate'")
		}
	}

	// serial_dev is a shortcut for serial_ioport (spec.md §6); applying
	// serial_ioport second lets it win if both are given, same as the
	// last-write-wins ordering process_option already follows when fed
	// both keys in sequence.
	if seen["serial_dev"] {
		if port, ok := serialPortAliases[*serialDev]; ok {
			opts.SerialIOPort = port
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'serial_dev'")
		}
	}

	if seen["serial_ioport"] {
		if n, err := strconv.ParseInt(*serialIOPort, 0, 32); err == nil && n >= 0 && int(n) <= constants.SerialMaxIOPort {
			opts.SerialIOPort = int(n)
		} else {
			opts.Warnings = append(opts.Warnings, "invalid value for argument 'serial_ioport'")
		}
	}

	return opts
}

// recordUnrecognized routes a key the FlagSet doesn't claim to either
// DebugDumps (DEBUG_DUMP_* toggles) or Extra (everything else), per
// spec.md §6's "exporting unrecognized keys as environment variables
// for the loader process."
func recordUnrecognized(opts *Options, tok token) {
	if strings.HasPrefix(tok.key, debugDumpPrefix) {
		name := strings.TrimPrefix(tok.key, debugDumpPrefix)
		if b, ok := parseBool(tok.value); ok {
			opts.DebugDumps[name] = b
		} else {
			opts.Warnings = append(opts.Warnings, fmt.Sprintf("invalid value for argument '%s'", tok.key))
		}
		return
	}
	opts.Extra[tok.key] = tok.value
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "enable":
		return true, true
	case "false", "0", "no", "disable":
		return false, true
	default:
		return false, false
	}
}
