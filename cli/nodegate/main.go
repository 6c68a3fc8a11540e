package main

import (
	"bufio"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nodegate/nodegate"
	"github.com/nodegate/nodegate/common"
	E "github.com/nodegate/nodegate/common/exceptions"
	"github.com/nodegate/nodegate/common/log"
	"github.com/nodegate/nodegate/transport/pool"

	"github.com/eapache/queue"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type flags struct {
	Listen     string        `yaml:"listen"`
	Port       uint16        `yaml:"port"`
	MaxClients int           `yaml:"max_clients"`
	Interval   time.Duration `yaml:"interval"`
	Verbose    bool          `yaml:"verbose"`
	ConfigFile string        `yaml:"-"`
}

var logger = log.NewLogger("nodegate")

func main() {
	f := new(flags)

	command := &cobra.Command{
		Use:     "nodegate",
		Short:   "broadcast TCP gateway for sensor-network controllers",
		Version: nodegate.Version,
		Run: func(cmd *cobra.Command, args []string) {
			run(cmd, f)
		},
	}

	command.Flags().StringVarP(&f.Listen, "listen", "b", "", "Set the listen address, empty for all interfaces.")
	command.Flags().Uint16VarP(&f.Port, "port", "p", 5003, "Set the listen port.")
	command.Flags().IntVarP(&f.MaxClients, "max-clients", "m", 8, "Set the maximum number of tracked connections.")
	command.Flags().DurationVar(&f.Interval, "interval", 20*time.Millisecond, "Set the poll interval.")
	command.Flags().StringVarP(&f.ConfigFile, "config", "c", "", "Read settings from a YAML file. Flags take precedence.")
	command.Flags().BoolVarP(&f.Verbose, "verbose", "v", false, "Enable verbose logging.")

	if err := command.Execute(); err != nil {
		logger.Fatal(err)
	}
}

func loadConfig(cmd *cobra.Command, f *flags) {
	content, err := os.ReadFile(f.ConfigFile)
	if err != nil {
		logger.Fatal(E.Cause(err, "read config"))
	}
	fileConfig := new(flags)
	if err = yaml.Unmarshal(content, fileConfig); err != nil {
		logger.Fatal(E.Cause(err, "parse config"))
	}
	if !cmd.Flags().Changed("listen") {
		f.Listen = fileConfig.Listen
	}
	if !cmd.Flags().Changed("port") && fileConfig.Port != 0 {
		f.Port = fileConfig.Port
	}
	if !cmd.Flags().Changed("max-clients") && fileConfig.MaxClients != 0 {
		f.MaxClients = fileConfig.MaxClients
	}
	if !cmd.Flags().Changed("interval") && fileConfig.Interval != 0 {
		f.Interval = fileConfig.Interval
	}
	if !cmd.Flags().Changed("verbose") {
		f.Verbose = fileConfig.Verbose
	}
}

func run(cmd *cobra.Command, f *flags) {
	if f.ConfigFile != "" {
		loadConfig(cmd, f)
	}
	if f.Verbose {
		log.SetVerbose()
	}

	var bind netip.Addr
	if f.Listen != "" {
		var err error
		bind, err = netip.ParseAddr(f.Listen)
		if err != nil {
			logger.Fatal(E.Cause(err, "parse listen address"))
		}
	}

	server := pool.New(f.MaxClients)
	if err := server.Start(netip.AddrPortFrom(bind, f.Port)); err != nil {
		os.Exit(1)
	}
	defer common.Close(server)

	// Payloads wait here between poll ticks: stdin lines from the
	// operator plus everything the controllers send in.
	outbound := queue.New()
	var access sync.Mutex
	go readInput(outbound, &access)

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	var controllers []*pool.Handle
	buffer := make([]byte, 4096)
	for {
		select {
		case <-osSignals:
			logger.Info("shutting down")
			return
		case <-ticker.C:
		}

		for server.HasPendingConnection() {
			handle := server.TakePending()
			if handle == nil {
				break
			}
			if !handle.Connected() && handle.Available() == 0 {
				continue
			}
			logger.Info("controller connected: ", handle.RemoteAddr())
			controllers = append(controllers, handle)
		}

		// Relay controller traffic back out to everyone.
		live := controllers[:0]
		for _, handle := range controllers {
			for handle.Available() > 0 {
				n, err := handle.Read(buffer)
				if n > 0 {
					payload := make([]byte, n)
					copy(payload, buffer[:n])
					access.Lock()
					outbound.Add(payload)
					access.Unlock()
				}
				if err != nil {
					break
				}
			}
			if handle.Connected() || handle.Available() > 0 {
				live = append(live, handle)
			}
		}
		controllers = live

		for {
			access.Lock()
			if outbound.Length() == 0 {
				access.Unlock()
				break
			}
			payload := outbound.Remove().([]byte)
			access.Unlock()
			written := server.Broadcast(payload)
			logger.Trace("broadcast ", len(payload), " bytes, ", written, " delivered")
		}
	}
}

func readInput(outbound *queue.Queue, access *sync.Mutex) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		payload := make([]byte, 0, len(line)+1)
		payload = append(payload, line...)
		payload = append(payload, '\n')
		access.Lock()
		outbound.Add(payload)
		access.Unlock()
	}
}
