package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
)

// readOnlyPrograms maps allowed programs to their allowed subcommands. A nil
// entry allows any arguments that pass the program's argument check.
var readOnlyPrograms = map[string][]string{
	"docker":     {"ps", "inspect", "logs", "stats", "top", "images", "info", "version"},
	"systemctl":  {"status", "show", "is-active", "is-enabled", "is-failed", "list-units"},
	"curl":       nil,
	"cat":        nil,
	"grep":       nil,
	"head":       nil,
	"tail":       nil,
	"wc":         nil,
	"ls":         nil,
	"df":         nil,
	"free":       nil,
	"uptime":     nil,
	"echo":       nil,
	"date":       nil,
	"ps":         nil,
	"pgrep":      nil,
	"test":       nil,
	"true":       nil,
	"journalctl": nil,
	"pg_isready": nil,
	"ss":         nil,
	"jq":         nil,
}

// pipeFilters may only appear after the first pipeline segment.
var pipeFilters = map[string]bool{
	"grep": true,
	"head": true,
	"tail": true,
	"wc":   true,
	"jq":   true,
}

var argChecks = map[string]func(args []string) error{
	"curl":       checkCurl,
	"journalctl": checkJournalctl,
	"ss":         checkSS,
	"date":       checkDate,
}

var curlWriteLong = map[string]bool{
	"--data": true, "--data-raw": true, "--data-binary": true, "--data-urlencode": true,
	"--data-ascii": true, "--json": true, "--form": true, "--form-string": true,
	"--upload-file": true, "--output": true, "--output-dir": true, "--remote-name": true,
	"--remote-name-all": true, "--dump-header": true, "--cookie-jar": true,
	"--trace": true, "--trace-ascii": true, "--config": true,
}

// Short curl options that write or send a body.
const curlWriteShort = "dFTOoDcK"

// Short curl options whose value may follow in the same word.
const curlValueShort = "AbCEeHmrUuwxYyzXdFToDcK"

var journalctlWriteFlags = []string{
	"--vacuum", "--rotate", "--flush", "--sync", "--relinquish-var",
	"--smart-relinquish-var", "--setup-keys", "--update-catalog",
}

// ValidateCommand rejects commands that could change remote state. A command
// is one read-only program, optionally piped into text filters.
func ValidateCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return errors.New("empty command")
	}
	segments, err := splitPipeline(command)
	if err != nil {
		return err
	}
	for i, segment := range segments {
		words, err := shellquote.Split(segment)
		if err != nil {
			return fmt.Errorf("tokenize %q: %w", segment, err)
		}
		if len(words) == 0 {
			return errors.New("empty pipeline segment")
		}
		if i > 0 && !pipeFilters[words[0]] {
			return fmt.Errorf("%q cannot read from a pipe", words[0])
		}
		if err := checkProgram(words); err != nil {
			return err
		}
	}
	return nil
}

func checkProgram(words []string) error {
	program := words[0]
	subcommands, ok := readOnlyPrograms[program]
	if !ok {
		return fmt.Errorf("program %q is not allowed", program)
	}
	if subcommands != nil {
		if len(words) < 2 {
			return fmt.Errorf("%s requires a subcommand", program)
		}
		if !contains(subcommands, words[1]) {
			return fmt.Errorf("%s %s is not allowed", program, words[1])
		}
	}
	if check, ok := argChecks[program]; ok {
		return check(words[1:])
	}
	return nil
}

func checkCurl(args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			return nil
		case strings.HasPrefix(arg, "--"):
			flag, value, hasValue := strings.Cut(arg, "=")
			if curlWriteLong[flag] {
				return fmt.Errorf("curl %s is not allowed", flag)
			}
			if flag == "--request" {
				if !hasValue && i+1 < len(args) {
					i++
					value = args[i]
				}
				if err := checkMethod(value); err != nil {
					return err
				}
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			cluster := arg[1:]
			for j, c := range cluster {
				if c == 'X' {
					method := cluster[j+1:]
					if method == "" && i+1 < len(args) {
						i++
						method = args[i]
					}
					if err := checkMethod(method); err != nil {
						return err
					}
					break
				}
				if strings.ContainsRune(curlWriteShort, c) {
					return fmt.Errorf("curl -%c is not allowed", c)
				}
				if strings.ContainsRune(curlValueShort, c) {
					if j == len(cluster)-1 {
						i++
					}
					break
				}
			}
		}
	}
	return nil
}

func checkMethod(method string) error {
	if strings.EqualFold(method, "GET") || strings.EqualFold(method, "HEAD") {
		return nil
	}
	return fmt.Errorf("curl method %q is not allowed", method)
}

func checkJournalctl(args []string) error {
	for _, arg := range args {
		for _, flag := range journalctlWriteFlags {
			if strings.HasPrefix(arg, flag) {
				return fmt.Errorf("journalctl %s is not allowed", arg)
			}
		}
	}
	return nil
}

func checkSS(args []string) error {
	for _, arg := range args {
		if arg == "--kill" || (isShortCluster(arg) && strings.ContainsRune(arg, 'K')) {
			return fmt.Errorf("ss %s is not allowed", arg)
		}
	}
	return nil
}

// checkDate allows only display forms: flags other than --set, and +FORMAT
// operands. A bare operand sets the clock.
func checkDate(args []string) error {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		flag, _, hasValue := strings.Cut(arg, "=")
		switch {
		case strings.HasPrefix(arg, "+"):
		case flag == "--set", isShortCluster(arg) && strings.ContainsRune(arg, 's'):
			return fmt.Errorf("date %s is not allowed", arg)
		case arg == "-d", arg == "-r", arg == "-f",
			!hasValue && (flag == "--date" || flag == "--reference" || flag == "--file"):
			i++
		case strings.HasPrefix(arg, "-"):
		default:
			return fmt.Errorf("date operand %q is not allowed", arg)
		}
	}
	return nil
}

func isShortCluster(arg string) bool {
	return len(arg) > 1 && arg[0] == '-' && arg[1] != '-'
}

// splitPipeline splits on unquoted '|' and rejects every other shell operator
// outside single quotes.
func splitPipeline(command string) ([]string, error) {
	var (
		segments []string
		current  strings.Builder
		single   bool
		double   bool
		escaped  bool
	)
	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			escaped = false
			current.WriteRune(r)
			continue
		}
		switch {
		case r == '\\' && !single:
			escaped = true
		case r == '\'' && !double:
			single = !single
		case r == '"' && !single:
			double = !double
		case single:
		case r == '`', r == '$' && i+1 < len(runes) && runes[i+1] == '(':
			return nil, errors.New("command substitution is not allowed")
		case double:
		case r == '\n', r == ';':
			return nil, errors.New("command lists are not allowed")
		case r == '&':
			return nil, errors.New("'&' is not allowed")
		case r == '>', r == '<':
			return nil, errors.New("redirection is not allowed")
		case r == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				return nil, errors.New("'||' is not allowed")
			}
			segments = append(segments, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if single || double {
		return nil, errors.New("unterminated quote")
	}
	segments = append(segments, current.String())
	return segments, nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
