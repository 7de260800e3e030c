// Command helloworld stands up a server offering a greeting method and
// a two-operation calculator, then calls both from a client over
// loopback UDP. It is a wiring demo, not a deployment tool: real
// services get their own main using the same transport/rpc/catalog
// building blocks, pointed at a real multicast group instead of
// loopback.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/go-someip/someip"
	"github.com/go-someip/someip/pkg/rpc"
	"github.com/go-someip/someip/pkg/session"
	"github.com/go-someip/someip/pkg/transport"
)

const (
	greeterService uint16 = 0x1000
	greeterMethod  uint16 = 0x0001

	calculatorService uint16 = 0x2000
	methodAdd         uint16 = 0x0001
	methodMultiply    uint16 = 0x0002
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	serverMgr := mustManager(logger)
	clientMgr := mustManager(logger)
	defer serverMgr.Stop()
	defer clientMgr.Stop()

	greeter := rpc.NewServer(greeterService, serverMgr, logger)
	greeter.Register(greeterMethod, 1, handleGreet)
	serverMgr.Subscribe(greeterService, greeter.Handle)

	calculator := rpc.NewServer(calculatorService, serverMgr, logger)
	calculator.Register(methodAdd, 1, handleAdd)
	calculator.Register(methodMultiply, 1, handleMultiply)
	serverMgr.Subscribe(calculatorService, calculator.Handle)

	client := rpc.NewClient(0x1234, clientMgr, session.NewManager(), logger)
	client.Start(context.Background(), 50*time.Millisecond)
	defer client.Stop()
	clientMgr.Subscribe(greeterService, func(msg someip.Message, peer transport.Endpoint) { client.Deliver(msg) })
	clientMgr.Subscribe(calculatorService, func(msg someip.Message, peer transport.Endpoint) { client.Deliver(msg) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	greeting, err := client.CallSync(ctx, someip.MessageId{ServiceID: greeterService, MethodID: greeterMethod}, 1,
		[]byte("Hello from Client!"), serverMgr.LocalEndpoint(), time.Second)
	if err != nil {
		panic(err)
	}
	fmt.Printf("greeter: %s\n", greeting.Payload)

	sum, err := client.CallSync(ctx, someip.MessageId{ServiceID: calculatorService, MethodID: methodAdd}, 1,
		encodeOperands(10, 5), serverMgr.LocalEndpoint(), time.Second)
	if err != nil {
		panic(err)
	}
	fmt.Printf("10 + 5 = %d\n", binary.BigEndian.Uint32(sum.Payload))

	product, err := client.CallSync(ctx, someip.MessageId{ServiceID: calculatorService, MethodID: methodMultiply}, 1,
		encodeOperands(6, 7), serverMgr.LocalEndpoint(), time.Second)
	if err != nil {
		panic(err)
	}
	fmt.Printf("6 * 7 = %d\n", binary.BigEndian.Uint32(product.Payload))
}

func mustManager(logger *slog.Logger) *transport.Manager {
	udp := transport.NewUDPTransport(transport.Endpoint{Network: "udp", IP: net.ParseIP("127.0.0.1")}, logger)
	mgr := transport.NewManager(udp, logger)
	if err := mgr.Start(context.Background()); err != nil {
		panic(err)
	}
	return mgr
}

func handleGreet(req someip.Message) ([]byte, error) {
	return []byte(fmt.Sprintf("Hello World! Server received: %s", req.Payload)), nil
}

func handleAdd(req someip.Message) ([]byte, error) {
	a, b, err := decodeOperands(req.Payload)
	if err != nil {
		return nil, err
	}
	return encodeResult(a + b), nil
}

func handleMultiply(req someip.Message) ([]byte, error) {
	a, b, err := decodeOperands(req.Payload)
	if err != nil {
		return nil, err
	}
	return encodeResult(a * b), nil
}

func encodeOperands(a, b uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], a)
	binary.BigEndian.PutUint32(buf[4:8], b)
	return buf
}

func decodeOperands(payload []byte) (uint32, uint32, error) {
	if len(payload) != 8 {
		return 0, 0, rpc.ErrInvalidParameters
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint32(payload[4:8]), nil
}

func encodeResult(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}
