package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/ashutoshrp06/friday/internal/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth is the result of a single health check RPC.
type GRPCHealth struct {
	Target    string `json:"target"`
	Service   string `json:"service,omitempty"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// GRPCWatch summarises a health watch stream.
type GRPCWatch struct {
	Target        string   `json:"target"`
	Updates       int      `json:"updates"`
	StatusChanges int      `json:"status_changes"`
	LastStatus    string   `json:"last_status,omitempty"`
	DurationSec   float64  `json:"duration_sec"`
	Errors        []string `json:"errors,omitempty"`
}

func grpcParams() []types.ToolParameter {
	return []types.ToolParameter{
		{Name: "host", Type: types.ParamString, Description: "gRPC server host", Required: true},
		{Name: "port", Type: types.ParamInteger, Description: "gRPC server port", Required: true},
		{Name: "service", Type: types.ParamString, Description: "Service name; empty checks the whole server", Default: ""},
	}
}

func grpcHealthDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "grpc-health",
		Description: "Call the standard gRPC health service on a server and report its serving status and latency.",
		Atomic:      true,
		Parameters: append(grpcParams(),
			types.ToolParameter{Name: "timeout", Type: types.ParamInteger, Description: "Timeout in seconds", Default: 5}),
		Handler: HandlerFunc(runGRPCHealth),
	}
}

func grpcWatchDefinition() ToolDefinition {
	return ToolDefinition{
		Name:        "grpc-watch",
		Description: "Watch the gRPC health stream of a server for a few seconds and report status changes.",
		Parameters: append(grpcParams(),
			types.ToolParameter{Name: "duration", Type: types.ParamInteger, Description: "Seconds to watch", Default: 10}),
		Handler: HandlerFunc(runGRPCWatch),
	}
}

func dialGRPC(args map[string]any) (*grpc.ClientConn, string, error) {
	target := net.JoinHostPort(StringArg(args, "host", ""), strconv.Itoa(IntArg(args, "port", 0)))
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, target, fmt.Errorf("connect to gRPC server at %s: %w", target, err)
	}
	return conn, target, nil
}

func runGRPCHealth(ctx context.Context, args map[string]any) (any, error) {
	timeout := IntArg(args, "timeout", 5)
	if timeout <= 0 {
		timeout = 5
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	conn, target, err := dialGRPC(args)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	service := StringArg(args, "service", "")
	start := time.Now()
	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return nil, fmt.Errorf("gRPC health check on %s: %w", target, err)
	}

	return GRPCHealth{
		Target:    target,
		Service:   service,
		Status:    resp.GetStatus().String(),
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func runGRPCWatch(ctx context.Context, args map[string]any) (any, error) {
	duration := IntArg(args, "duration", 10)
	if duration <= 0 {
		duration = 10
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(duration)*time.Second)
	defer cancel()

	conn, target, err := dialGRPC(args)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stream, err := grpc_health_v1.NewHealthClient(conn).Watch(ctx,
		&grpc_health_v1.HealthCheckRequest{Service: StringArg(args, "service", "")})
	if err != nil {
		return nil, fmt.Errorf("start health watch on %s: %w", target, err)
	}

	summary := GRPCWatch{Target: target}
	start := time.Now()
	for {
		resp, err := stream.Recv()
		if err != nil {
			// the deadline ending the watch is the normal exit
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				summary.Errors = append(summary.Errors, err.Error())
			}
			break
		}
		status := resp.GetStatus().String()
		if summary.LastStatus != "" && summary.LastStatus != status {
			summary.StatusChanges++
		}
		summary.LastStatus = status
		summary.Updates++
	}
	summary.DurationSec = time.Since(start).Seconds()

	if summary.Updates == 0 && len(summary.Errors) > 0 {
		return nil, fmt.Errorf("health watch on %s: %s", target, summary.Errors[0])
	}
	return summary, nil
}

// RegisterGRPCTools registers the gRPC health tools.
func RegisterGRPCTools(r *Registry) {
	r.MustRegister(grpcHealthDefinition())
	r.MustRegister(grpcWatchDefinition())
}
