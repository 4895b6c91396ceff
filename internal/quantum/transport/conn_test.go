package transport

import (
	"net"
	"testing"
	"time"
)

func dialLoopbackPair(t *testing.T) (a, b *Conn) {
	t.Helper()

	// Reserve a loopback port for the server end and dial the client at it.
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP(probe) = %v", err)
	}
	serverAddr := probe.LocalAddr().(*net.UDPAddr)

	client, err := Dial("udp", serverAddr.String(), DefaultConfig())
	if err != nil {
		t.Fatalf("Dial(client) = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Dial cannot choose its local port, so the server end is a socket bound
	// to the reserved port and connected back to the client's ephemeral
	// port, which makes the pair symmetric.
	probe.Close()
	udpConn, err := net.DialUDP("udp", serverAddr, client.LocalAddr())
	if err != nil {
		t.Fatalf("DialUDP(server) = %v", err)
	}
	server := &Conn{
		udpConn:        udpConn,
		localAddr:      serverAddr,
		remoteAddr:     client.LocalAddr(),
		defaultTimeout: DefaultReadTimeout,
		bufPool:        newBufferPool(),
	}
	t.Cleanup(func() { server.Close() })

	return server, client
}

func TestSendReceiveRoundTrip(t *testing.T) {
	server, client := dialLoopbackPair(t)

	payload := []byte("hello quantum")
	if err := client.Send(payload); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	got, err := server.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive() = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Receive() = %q, want %q", got, payload)
	}
}

func TestReceiveTimesOutWithoutData(t *testing.T) {
	server, _ := dialLoopbackPair(t)

	_, err := server.Receive(50 * time.Millisecond)
	if err != ErrTimeout {
		t.Errorf("Receive() error = %v, want ErrTimeout", err)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	_, client := dialLoopbackPair(t)
	client.Close()

	if err := client.Send([]byte("x")); err != ErrClosed {
		t.Errorf("Send() after Close() = %v, want ErrClosed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, client := dialLoopbackPair(t)

	if err := client.Close(); err != nil {
		t.Fatalf("first Close() = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close() = %v, want nil", err)
	}
}

func TestStatisticsTrackSendsAndReceives(t *testing.T) {
	server, client := dialLoopbackPair(t)

	if err := client.Send([]byte("abc")); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if _, err := server.Receive(time.Second); err != nil {
		t.Fatalf("Receive() = %v", err)
	}

	cstats := client.Statistics()
	if cstats.PacketsSent != 1 || cstats.BytesSent != 3 {
		t.Errorf("client stats = %+v, want PacketsSent=1 BytesSent=3", cstats)
	}

	sstats := server.Statistics()
	if sstats.PacketsReceived != 1 || sstats.BytesReceived != 3 {
		t.Errorf("server stats = %+v, want PacketsReceived=1 BytesReceived=3", sstats)
	}
}
