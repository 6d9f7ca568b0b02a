package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/mediaflow/blobxfer/internal/config"
)

// prompter asks questions on out and reads answers line by line from in.
// An empty answer keeps the default.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ask prompts for free text.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// askInt prompts until the answer is an integer in [lo, hi].
func (p *prompter) askInt(label string, def, lo, hi int) (int, error) {
	for {
		answer, err := p.ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(answer)
		if err == nil && v >= lo && v <= hi {
			return v, nil
		}
		fmt.Fprintf(p.out, "  Please enter a number between %d and %d.\n", lo, hi)
	}
}

// askFloat prompts until the answer is a non-negative number.
func (p *prompter) askFloat(label string, def float64) (float64, error) {
	for {
		answer, err := p.ask(label, strconv.FormatFloat(def, 'f', -1, 64))
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(answer, 64)
		if err == nil && v >= 0 {
			return v, nil
		}
		fmt.Fprintln(p.out, "  Please enter a non-negative number.")
	}
}

// askChoice prompts until the answer is one of choices.
func (p *prompter) askChoice(label string, choices []string, def string) (string, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s (%s)", label, strings.Join(choices, ", ")), def)
		if err != nil {
			return "", err
		}
		for _, c := range choices {
			if strings.EqualFold(answer, c) {
				return c, nil
			}
		}
		fmt.Fprintln(p.out, "  Invalid choice, please try again.")
	}
}

// askYesNo prompts for y/n.
func (p *prompter) askYesNo(label string, def bool) (bool, error) {
	d := "y/N"
	if def {
		d = "Y/n"
	}
	fmt.Fprintf(p.out, "%s [%s]: ", label, d)
	answer, err := p.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// readProxyPassword asks for the proxy password on the terminal without echo.
// Without a terminal the password must come from the environment.
func readProxyPassword(cfg *config.Config) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("proxy user %q needs a password: set BLOBXFER_PROXY_PASSWORD", cfg.Proxy.User)
	}
	fmt.Fprintf(os.Stderr, "Proxy password for %s@%s: ", cfg.Proxy.User, cfg.Proxy.Host)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read proxy password: %w", err)
	}
	cfg.Proxy.Password = string(password)
	return nil
}
