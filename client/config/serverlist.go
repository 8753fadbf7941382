package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.ntppool.org/srvmon/client/description"
)

// Server is one entry in the server list.
type Server struct {
	Address description.Address
	Fields  map[string]string
}

// ParseServerList reads servers, one per line:
//
//	host:port [key=value ...]
//
// Blank lines and lines starting with # are ignored. Duplicate addresses
// are an error.
func ParseServerList(r io.Reader) ([]Server, error) {
	var servers []Server
	seen := map[description.Address]int{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		s := Server{Address: description.Address(parts[0])}

		if prev, ok := seen[s.Address]; ok {
			return nil, fmt.Errorf("line %d: %s already listed on line %d", lineNo, s.Address, prev)
		}
		seen[s.Address] = lineNo

		for _, kv := range parts[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || len(k) == 0 {
				return nil, fmt.Errorf("line %d: invalid field %q, expected key=value", lineNo, kv)
			}
			if s.Fields == nil {
				s.Fields = map[string]string{}
			}
			s.Fields[k] = v
		}

		servers = append(servers, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return servers, nil
}

// LoadServerList reads the server list from a file.
func LoadServerList(path string) ([]Server, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	servers, err := ParseServerList(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return servers, nil
}
