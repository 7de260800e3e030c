package someip

import "time"

// SDConfig configures the Service Discovery engine (spec §6, §4.7).
type SDConfig struct {
	MulticastGroup        string        // e.g. "224.224.224.245"; never hardcoded, caller-supplied
	MulticastPort         uint16        // default 30490
	UnicastPort           uint16        // default 30490
	InitialDelay          time.Duration // default 100ms
	RepetitionBase        time.Duration // default 2s
	RepetitionMultiplier  float64       // default 2
	RepetitionMaxCount    int           // default 3
	CyclicOfferDelay      time.Duration // default 30s
	DefaultTTL            time.Duration // default 3600s
	FindResponseDelayMax  time.Duration // default 1.5s
}

// TPConfig configures the segmentation sublayer (spec §4.5).
type TPConfig struct {
	MaxSegmentSize         uint32        // default 1400
	MaxMessageSize         uint32        // default 1 MiB
	ReassemblyTimeout      time.Duration // default 5s
	MaxConcurrentTransfers int           // default 10
	EnableAcknowledgments  bool          // default false
}

// TCPConfig configures the TCP transport and stream framer (spec §4.2, §4.3).
type TCPConfig struct {
	ConnectTimeout      time.Duration
	SendTimeout         time.Duration
	ReceiveTimeout      time.Duration
	KeepAlive           bool
	KeepAliveInterval   time.Duration
	MaxReceiveBuffer    uint32 // default 64 KiB
	MaxMessageSize      uint32 // default 64 KiB, framer resync threshold
	MaxConnections      int    // default 10
}

// RPCConfig configures the RPC correlator (spec §4.6).
type RPCConfig struct {
	DefaultRequestTimeout  time.Duration // send timeout, default 1s
	DefaultResponseTimeout time.Duration // response deadline, default 5s
	DeadlineSweepInterval  time.Duration // default <=100ms
}

// Config is the construction-time record for the whole stack (spec §6).
// Every field is optional; DefaultConfig returns one with every default
// from the spec already filled in.
type Config struct {
	SD  SDConfig
	TP  TPConfig
	TCP TCPConfig
	RPC RPCConfig
}

// DefaultConfig returns a Config with every default named in spec §5/§6.
func DefaultConfig() Config {
	return Config{
		SD: SDConfig{
			MulticastPort:        30490,
			UnicastPort:          30490,
			InitialDelay:         100 * time.Millisecond,
			RepetitionBase:       2 * time.Second,
			RepetitionMultiplier: 2,
			RepetitionMaxCount:   3,
			CyclicOfferDelay:     30 * time.Second,
			DefaultTTL:           3600 * time.Second,
			FindResponseDelayMax: 1500 * time.Millisecond,
		},
		TP: TPConfig{
			MaxSegmentSize:         1400,
			MaxMessageSize:         1 << 20,
			ReassemblyTimeout:      5 * time.Second,
			MaxConcurrentTransfers: 10,
			EnableAcknowledgments:  false,
		},
		TCP: TCPConfig{
			ConnectTimeout:    5 * time.Second,
			SendTimeout:       1 * time.Second,
			ReceiveTimeout:    0,
			KeepAlive:         true,
			KeepAliveInterval: 30 * time.Second,
			MaxReceiveBuffer:  64 * 1024,
			MaxMessageSize:    64 * 1024,
			MaxConnections:    10,
		},
		RPC: RPCConfig{
			DefaultRequestTimeout:  1 * time.Second,
			DefaultResponseTimeout: 5 * time.Second,
			DeadlineSweepInterval:  50 * time.Millisecond,
		},
	}
}
