// Package main is a small operator console. It sends operator commands to
// an autonomy runtime over a serial line or over the link.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"QuadExplore/internal/device"
	"QuadExplore/internal/link"
	"QuadExplore/internal/model"
	"QuadExplore/internal/parser"
	"QuadExplore/internal/util"
)

type options struct {
	cmd      model.OperatorCommand
	repeat   int
	interval time.Duration

	device string
	baud   int
	format string

	url    string
	agent  string
	domain string
}

func main() {
	var o options
	root := &cobra.Command{
		Use:          "operator",
		Short:        "Send operator override commands",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.BoolVar(&o.cmd.Active, "active", true, "raise (true) or release (false) the override")
	pf.Float64Var(&o.cmd.VX, "vx", 0, "velocity x (m/s)")
	pf.Float64Var(&o.cmd.VY, "vy", 0, "velocity y (m/s)")
	pf.Float64Var(&o.cmd.VZ, "vz", 0, "velocity z (m/s)")
	pf.Float64Var(&o.cmd.YawRate, "yaw-rate", 0, "yaw rate (rad/s)")
	pf.IntVar(&o.repeat, "repeat", 1, "number of commands to send")
	pf.DurationVar(&o.interval, "interval", 100*time.Millisecond, "delay between repeated commands")

	serialCmd := &cobra.Command{
		Use:   "serial",
		Short: "Write operator lines to a serial device",
		RunE:  func(cmd *cobra.Command, args []string) error { return sendSerial(o) },
	}
	serialCmd.Flags().StringVar(&o.device, "device", "/dev/ttyUSB0", "serial device")
	serialCmd.Flags().IntVar(&o.baud, "baud", 57600, "baud rate")
	serialCmd.Flags().StringVar(&o.format, "format", "csv", "wire format (csv|json)")

	linkCmd := &cobra.Command{
		Use:   "link",
		Short: "Send operator frames over the link websocket",
		RunE:  func(cmd *cobra.Command, args []string) error { return sendLink(o) },
	}
	linkCmd.Flags().StringVar(&o.url, "url", "ws://localhost:10000"+link.Path, "link endpoint")
	linkCmd.Flags().StringVar(&o.agent, "agent", "00000000000000ff", "operator EUI64")
	linkCmd.Flags().StringVar(&o.domain, "domain", "Mosul Mission", "link domain")

	root.AddCommand(serialCmd, linkCmd)
	util.SetupLogger("info", "text")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func sendSerial(o options) error {
	p, err := parser.Get(o.format)
	if err != nil {
		return err
	}
	dev, err := device.NewSerialDevice(o.device, o.baud)
	if err != nil {
		return err
	}
	defer dev.Close()
	return repeat(o, func(c model.OperatorCommand) error {
		line, err := p.EncodeCommand(c)
		if err != nil {
			return err
		}
		return dev.WriteLine(line)
	})
}

func sendLink(o options) error {
	agent, err := model.ParseAgentID(o.agent)
	if err != nil {
		return err
	}
	c, err := link.Dial(o.url, agent, o.domain)
	if err != nil {
		return err
	}
	defer c.Close()
	return repeat(o, func(cmd model.OperatorCommand) error {
		b, err := json.Marshal(cmd)
		if err != nil {
			return err
		}
		return c.Send(model.KindOperator, model.PriorityHigh, b)
	})
}

func repeat(o options, send func(model.OperatorCommand) error) error {
	for i := 0; i < o.repeat; i++ {
		c := o.cmd
		c.Time = time.Now()
		if err := send(c); err != nil {
			return fmt.Errorf("send command %d: %w", i+1, err)
		}
		if i+1 < o.repeat {
			time.Sleep(o.interval)
		}
	}
	return nil
}
