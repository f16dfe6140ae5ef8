package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ashutoshrp06/friday/internal/types"
)

var commonPorts = []int{22, 80, 443, 3000, 3306, 5432, 6379, 8080, 8443, 27017}

// PingResult summarises an ICMP ping run.
type PingResult struct {
	Host      string   `json:"host"`
	Reachable bool     `json:"reachable"`
	Summary   []string `json:"summary"`
}

func pingDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "ping",
		Description: "Send ICMP ping to check if a host is reachable. Returns latency and packet loss info.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "host", Type: types.ParamString, Description: "Hostname or IP address to ping", Required: true},
			{Name: "count", Type: types.ParamInteger, Description: "Number of ping packets", Default: 3},
		},
		Handler: HandlerFunc(runPing),
	}
}

func runPing(ctx context.Context, args map[string]any) (any, error) {
	host := StringArg(args, "host", "")
	count := strconv.Itoa(IntArg(args, "count", 3))

	flag := "-c"
	if runtime.GOOS == "windows" {
		flag = "-n"
	}
	output, err := exec.CommandContext(ctx, "ping", flag, count, host).CombinedOutput()

	res := PingResult{Host: host, Reachable: err == nil, Summary: pingSummary(string(output))}
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("ping %s: %w", host, err)
	}
	return res, nil
}

// pingSummary keeps the statistics lines of ping output.
func pingSummary(output string) []string {
	var keep []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, marker := range []string{"packets", "rtt", "round-trip", "avg", "loss"} {
			if strings.Contains(line, marker) {
				keep = append(keep, line)
				break
			}
		}
	}
	if len(keep) == 0 && strings.TrimSpace(output) != "" {
		return []string{strings.TrimSpace(output)}
	}
	return keep
}

// DNSRecord is one resolved record.
type DNSRecord struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Priority uint16 `json:"priority,omitempty"`
}

func dnsDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "dns-lookup",
		Description: "Query DNS records for a domain. Returns A, AAAA, CNAME, MX, and TXT records.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "domain", Type: types.ParamString, Description: "Domain name to look up", Required: true},
			{Name: "type", Type: types.ParamString, Description: "Record type", Default: "all",
				Enum: []string{"all", "A", "AAAA", "MX", "TXT", "CNAME"}},
		},
		Handler: HandlerFunc(runDNSLookup),
	}
}

func runDNSLookup(ctx context.Context, args map[string]any) (any, error) {
	domain := StringArg(args, "domain", "")
	want := strings.ToUpper(StringArg(args, "type", "all"))
	match := func(kind string) bool { return want == "ALL" || want == kind }

	var resolver net.Resolver
	var records []DNSRecord

	if match("A") || match("AAAA") {
		if ips, err := resolver.LookupIPAddr(ctx, domain); err == nil {
			for _, ip := range ips {
				kind := "AAAA"
				if ip.IP.To4() != nil {
					kind = "A"
				}
				if match(kind) {
					records = append(records, DNSRecord{Type: kind, Value: ip.IP.String()})
				}
			}
		}
	}
	if match("CNAME") {
		if cname, err := resolver.LookupCNAME(ctx, domain); err == nil && cname != domain+"." {
			records = append(records, DNSRecord{Type: "CNAME", Value: cname})
		}
	}
	if match("MX") {
		if mxs, err := resolver.LookupMX(ctx, domain); err == nil {
			for _, mx := range mxs {
				records = append(records, DNSRecord{Type: "MX", Value: mx.Host, Priority: mx.Pref})
			}
		}
	}
	if match("TXT") {
		if txts, err := resolver.LookupTXT(ctx, domain); err == nil {
			for _, txt := range txts {
				records = append(records, DNSRecord{Type: "TXT", Value: truncate(txt, 100)})
			}
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("no DNS records found for %s", domain)
	}
	return records, nil
}

// PortStatus is the TCP reachability of one port.
type PortStatus struct {
	Port int  `json:"port"`
	Open bool `json:"open"`
}

func portScanDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "port-scan",
		Description: "Check if TCP ports are open on a host. Useful for checking service availability.",
		Parameters: []types.ToolParameter{
			{Name: "host", Type: types.ParamString, Description: "Hostname or IP to scan", Required: true},
			{Name: "ports", Type: types.ParamString, Description: "Comma-separated ports (e.g. '22,80,443') or 'common'", Default: "common"},
		},
		Handler: HandlerFunc(runPortScan),
	}
}

func parsePorts(list string) []int {
	if list == "common" {
		return commonPorts
	}
	var ports []int
	for _, ps := range strings.Split(list, ",") {
		if port, err := strconv.Atoi(strings.TrimSpace(ps)); err == nil && port > 0 && port < 65536 {
			ports = append(ports, port)
		}
	}
	return ports
}

func runPortScan(ctx context.Context, args map[string]any) (any, error) {
	host := StringArg(args, "host", "")
	ports := parsePorts(StringArg(args, "ports", "common"))
	if len(ports) == 0 {
		return nil, errors.New("no valid ports specified")
	}

	dialer := net.Dialer{Timeout: 2 * time.Second}
	statuses := make([]PortStatus, 0, len(ports))
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			conn.Close()
		}
		statuses = append(statuses, PortStatus{Port: port, Open: err == nil})
	}
	return map[string]any{"host": host, "ports": statuses}, nil
}

// HTTPProbe describes the response of one HTTP request.
type HTTPProbe struct {
	URL        string            `json:"url"`
	Status     string            `json:"status"`
	StatusCode int               `json:"status_code"`
	Protocol   string            `json:"protocol"`
	LatencyMS  int64             `json:"latency_ms"`
	Headers    map[string]string `json:"headers,omitempty"`
}

func httpDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "http",
		Description: "Make an HTTP/HTTPS request and return status code, headers, and response time.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "url", Type: types.ParamString, Description: "URL to request", Required: true},
			{Name: "method", Type: types.ParamString, Description: "HTTP method", Default: "GET", Enum: []string{"GET", "HEAD", "POST"}},
		},
		Handler: HandlerFunc(runHTTP),
	}
}

func runHTTP(ctx context.Context, args map[string]any) (any, error) {
	url := StringArg(args, "url", "")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, StringArg(args, "method", "GET"), url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("User-Agent", "friday/1.0")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	probe := HTTPProbe{
		URL:        url,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Protocol:   resp.Proto,
		LatencyMS:  time.Since(start).Milliseconds(),
		Headers:    make(map[string]string),
	}
	for _, h := range []string{"Content-Type", "Server", "Location", "Cache-Control"} {
		if v := resp.Header.Get(h); v != "" {
			probe.Headers[h] = v
		}
	}
	return probe, nil
}

func tracerouteDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "traceroute",
		Description: "Trace the network path to a host. Shows each hop with latency.",
		Parameters: []types.ToolParameter{
			{Name: "host", Type: types.ParamString, Description: "Hostname or IP to trace", Required: true},
			{Name: "max_hops", Type: types.ParamInteger, Description: "Maximum number of hops", Default: 15},
		},
		Handler: HandlerFunc(runTraceroute),
	}
}

func runTraceroute(ctx context.Context, args map[string]any) (any, error) {
	host := StringArg(args, "host", "")
	hops := strconv.Itoa(IntArg(args, "max_hops", 15))

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "tracert", "-h", hops, host)
	case "darwin":
		cmd = exec.CommandContext(ctx, "traceroute", "-m", hops, host)
	default:
		cmd = exec.CommandContext(ctx, "traceroute", "-m", hops, "-w", "2", host)
	}

	// traceroute exits non-zero on partial paths; any output is useful.
	output, err := cmd.CombinedOutput()
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("traceroute failed: %w", err)
	}
	return string(output), nil
}

// InterfaceInfo describes one local network interface.
type InterfaceInfo struct {
	Name      string   `json:"name"`
	MAC       string   `json:"mac,omitempty"`
	MTU       int      `json:"mtu"`
	Flags     string   `json:"flags"`
	Addresses []string `json:"addresses,omitempty"`
}

func netInfoDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "netinfo",
		Description: "Get local network interface information including IP addresses, MAC addresses, and interface status.",
		Atomic:      true,
		Parameters: []types.ToolParameter{
			{Name: "interface", Type: types.ParamString, Description: "Specific interface name, or 'all'", Default: "all"},
		},
		Handler: HandlerFunc(runNetInfo),
	}
}

func runNetInfo(_ context.Context, args map[string]any) (any, error) {
	filter := StringArg(args, "interface", "all")

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var infos []InterfaceInfo
	for _, iface := range ifaces {
		if filter != "all" && iface.Name != filter {
			continue
		}
		// loopback and down interfaces only when asked for by name
		if filter == "all" && (iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0) {
			continue
		}

		info := InterfaceInfo{
			Name:  iface.Name,
			MAC:   iface.HardwareAddr.String(),
			MTU:   iface.MTU,
			Flags: iface.Flags.String(),
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			info.Addresses = append(info.Addresses, addr.String())
		}
		infos = append(infos, info)
	}

	if len(infos) == 0 {
		return nil, errors.New("no matching interfaces found")
	}
	return infos, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RegisterNetworkingTools registers the built-in networking tools.
func RegisterNetworkingTools(r *Registry) {
	for _, def := range []ToolDefinition{
		pingDefinition(),
		dnsDefinition(),
		portScanDefinition(),
		httpDefinition(),
		tracerouteDefinition(),
		netInfoDefinition(),
		tcpStatsDefinition(),
	} {
		r.MustRegister(def)
	}
}
