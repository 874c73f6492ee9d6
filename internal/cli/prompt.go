package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// PromptForQuery asks for a search query on in, offering def as the answer
// when the user enters nothing.
func PromptForQuery(in io.Reader, out io.Writer, def string) string {
	if def != "" {
		fmt.Fprintf(out, "Search query [%s]: ", def)
	} else {
		fmt.Fprint(out, "Search query: ")
	}

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read query, using default")
		return def
	}

	if input = strings.TrimSpace(input); input == "" {
		return def
	}
	return input
}
