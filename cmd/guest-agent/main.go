package main

import (
	"flag"
	"fmt"
	"net"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/hans-pistor/spark-firecracker/internal/guestrpc"
	"github.com/hans-pistor/spark-firecracker/internal/logging"
)

func main() {
	var port int
	flag.IntVar(&port, "port", 3000, "port to listen on inside the guest")
	flag.Parse()

	logger, err := logging.New(false)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}
	logger.Info("guest agent listening", zap.Int("port", port))

	for {
		conn, err := lis.Accept()
		if err != nil {
			logger.Error("accept failed", zap.Error(err))
			continue
		}
		go handleConn(conn, logger)
	}
}

func handleConn(conn net.Conn, logger *zap.Logger) {
	defer conn.Close()

	var req guestrpc.Request
	if err := guestrpc.ReadFrame(conn, &req); err != nil {
		logger.Warn("failed to read request", zap.Error(err))
		return
	}

	resp := dispatch(req.Method, logger)
	if err := guestrpc.WriteFrame(conn, resp); err != nil {
		logger.Warn("failed to write response", zap.Error(err))
	}
}

func dispatch(method guestrpc.Method, logger *zap.Logger) guestrpc.Response {
	switch method {
	case guestrpc.MethodPing:
		return guestrpc.Response{OK: true}
	case guestrpc.MethodGetDmesg:
		out, err := exec.Command("dmesg").Output()
		if err != nil {
			return guestrpc.Response{OK: false, Error: err.Error()}
		}
		return guestrpc.Response{OK: true, Output: string(out)}
	case guestrpc.MethodShutdown:
		go func() {
			time.Sleep(time.Second)
			if err := exec.Command("reboot").Run(); err != nil {
				logger.Error("reboot failed", zap.Error(err))
			}
		}()
		return guestrpc.Response{OK: true}
	default:
		return guestrpc.Response{OK: false, Error: "unknown method: " + string(method)}
	}
}
