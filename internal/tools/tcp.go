package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashutoshrp06/friday/internal/types"
)

var (
	rttRegex     = regexp.MustCompile(`\brtt:([0-9.]+)`)
	retransRegex = regexp.MustCompile(`\bretrans:\d+/(\d+)|\bretrans:(\d+)`)
)

// TCPStats holds socket statistics for one local port, read from ss.
type TCPStats struct {
	Port              int     `json:"port"`
	State             string  `json:"state"`
	Connections       int     `json:"connections"`
	Retransmits       int     `json:"retransmits"`
	SendQueueBytes    int     `json:"send_queue_bytes"`
	RecvQueueBytes    int     `json:"recv_queue_bytes"`
	RTTMillis         float64 `json:"rtt_ms"`
	RecommendedBuffer int     `json:"recommended_buffer_bytes"`
}

func tcpStatsDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "tcp-stats",
		Description: "Inspect TCP sockets on a local port with ss: state, queues, RTT, retransmits and a recommended buffer size.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "port", Type: types.ParamInteger, Description: "Local TCP port", Required: true},
		},
		Handler: HandlerFunc(runTCPStats),
	}
}

func runTCPStats(ctx context.Context, args map[string]any) (any, error) {
	port := IntArg(args, "port", 0)
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("port out of range: %d", port)
	}

	out, err := exec.CommandContext(ctx, "ss", "-tin", fmt.Sprintf("sport = :%d", port)).Output()
	if err != nil {
		return nil, fmt.Errorf("ss: %w", err)
	}
	return ParseSSOutput(string(out), port)
}

// ParseSSOutput reads `ss -ti` output. Queue sizes are summed over every
// socket; RTT and retransmits are taken from the worst socket.
func ParseSSOutput(output string, port int) (*TCPStats, error) {
	stats := &TCPStats{Port: port}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "State") {
			continue
		}

		fields := strings.Fields(line)
		if isSocketState(fields[0]) && len(fields) >= 5 {
			stats.Connections++
			if stats.State == "" || fields[0] == "ESTAB" {
				stats.State = fields[0]
			}
			if n, err := strconv.Atoi(fields[1]); err == nil {
				stats.RecvQueueBytes += n
			}
			if n, err := strconv.Atoi(fields[2]); err == nil {
				stats.SendQueueBytes += n
			}
			continue
		}

		if m := rttRegex.FindStringSubmatch(line); m != nil {
			if rtt, err := strconv.ParseFloat(m[1], 64); err == nil && rtt > stats.RTTMillis {
				stats.RTTMillis = rtt
			}
		}
		if m := retransRegex.FindStringSubmatch(line); m != nil {
			total := m[1]
			if total == "" {
				total = m[2]
			}
			if n, err := strconv.Atoi(total); err == nil && n > stats.Retransmits {
				stats.Retransmits = n
			}
		}
	}

	if stats.Connections == 0 {
		return nil, errors.New("no TCP sockets found on port " + strconv.Itoa(port))
	}
	stats.RecommendedBuffer = RecommendedBuffer(stats.RTTMillis)
	return stats, nil
}

func isSocketState(s string) bool {
	switch s {
	case "ESTAB", "LISTEN", "SYN-SENT", "SYN-RECV", "FIN-WAIT-1", "FIN-WAIT-2",
		"TIME-WAIT", "CLOSE-WAIT", "LAST-ACK", "CLOSING", "UNCONN":
		return true
	}
	return false
}

// RecommendedBuffer estimates a socket buffer from the bandwidth-delay
// product, assuming 10Gbps below 1ms RTT, 1Gbps below 10ms and 100Mbps
// above. Without an RTT it returns 6MB; the result is capped at 64MB.
func RecommendedBuffer(rttMillis float64) int {
	if rttMillis <= 0 {
		return 6 * 1024 * 1024
	}

	var bandwidth float64
	switch {
	case rttMillis < 1:
		bandwidth = 10e9
	case rttMillis < 10:
		bandwidth = 1e9
	default:
		bandwidth = 100e6
	}

	bdp := int(rttMillis * bandwidth / 8000)
	if bdp > recommendedTCPMax {
		bdp = recommendedTCPMax
	}
	return bdp
}
