package tunnelkeeper

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// targetRegex matches "user@host[:port] privateKeyPath"
var targetRegex = regexp.MustCompile(`^([A-Za-z0-9._-]+)\s*@\s*([A-Za-z0-9._-]+)\s*(?::\s*([0-9]+))?\s+(.+)$`)

// forwardRegex matches "L bindPort:targetHost:targetPort" and the R variant.
var forwardRegex = regexp.MustCompile(`^([LR])\s*([0-9]+)\s*:\s*([A-Za-z0-9._-]+)\s*:\s*([0-9]+)$`)

// ParseOption configures the parser.
type ParseOption func(*parser)

// WithParseLogger makes the parser trace every line it skips at debug level.
func WithParseLogger(l *slog.Logger) ParseOption {
	return func(p *parser) {
		p.logger = l
	}
}

// parser holds the fold state while walking the configuration lines. It is
// local to a single Parse call.
type parser struct {
	targets []Target
	current int
	lineNo  int
	logger  *slog.Logger
}

// ParseFile reads the configuration file at path.
func ParseFile(path string, opts ...ParseOption) ([]Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	defer f.Close()

	return Parse(f, opts...)
}

// Parse reads configuration text and returns the targets in the order they
// were declared. Lines that match no rule are skipped. The only errors are
// read errors and port numbers that do not fit in 16 bits.
func Parse(r io.Reader, opts ...ParseOption) ([]Target, error) {
	p := newParser(opts)

	// lines may be of any length
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			if perr := p.line(strings.TrimRight(raw, "\r\n")); perr != nil {
				return nil, perr
			}
		}
		if errors.Is(err, io.EOF) {
			return p.targets, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
		}
	}
}

// ParseLines is Parse for configuration that is already split into lines.
func ParseLines(lines []string, opts ...ParseOption) ([]Target, error) {
	p := newParser(opts)
	for _, line := range lines {
		if err := p.line(line); err != nil {
			return nil, err
		}
	}
	return p.targets, nil
}

// ParseTarget parses a single "user@host[:port] privateKeyPath" declaration.
func ParseTarget(decl string) (Target, error) {
	m := targetRegex.FindStringSubmatch(strings.TrimSpace(decl))
	if m == nil {
		return Target{}, fmt.Errorf("%w: [%s]", ErrInvalidTarget, decl)
	}
	return targetFromMatch(m)
}

func newParser(opts []ParseOption) *parser {
	p := &parser{current: -1}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *parser) line(raw string) error {
	p.lineNo++

	line, _, _ := strings.Cut(raw, "#")
	line = strings.TrimSpace(line)

	if m := targetRegex.FindStringSubmatch(line); m != nil {
		t, err := targetFromMatch(m)
		if err != nil {
			return p.fail(raw, err)
		}
		p.targets = append(p.targets, t)
		p.current = len(p.targets) - 1
		return nil
	}

	if p.current < 0 {
		p.skip(raw, "no target declared yet")
		return nil
	}

	m := forwardRegex.FindStringSubmatch(line)
	if m == nil {
		p.skip(raw, "unrecognized")
		return nil
	}

	bindPort, err := parsePort(m[2])
	if err != nil {
		return p.fail(raw, err)
	}
	targetPort, err := parsePort(m[4])
	if err != nil {
		return p.fail(raw, err)
	}

	t := &p.targets[p.current]
	if m[1] == "L" {
		t.LocalForwards = append(t.LocalForwards, NewForward(Local, bindPort, m[3], targetPort))
	} else {
		t.RemoteForwards = append(t.RemoteForwards, NewForward(Remote, bindPort, m[3], targetPort))
	}
	return nil
}

func (p *parser) skip(raw string, reason string) {
	if p.logger == nil || strings.TrimSpace(raw) == "" {
		return
	}
	p.logger.Debug("skipped config line", "line", p.lineNo, "reason", reason, "text", raw)
}

func (p *parser) fail(raw string, err error) error {
	return &ParseError{Line: p.lineNo, Text: raw, Err: err}
}

func targetFromMatch(m []string) (Target, error) {
	port := uint16(DefaultSSHPort)
	if m[3] != "" {
		var err error
		port, err = parsePort(m[3])
		if err != nil {
			return Target{}, err
		}
		if port == 0 {
			return Target{}, fmt.Errorf("%w: SSH port must not be 0", ErrInvalidPort)
		}
	}

	return Target{
		User:           m[1],
		Host:           m[2],
		Port:           port,
		PrivateKeyPath: strings.TrimSpace(m[4]),
	}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPort, err)
	}
	return uint16(n), nil
}
