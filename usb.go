package gombot

/*
 * mBot Link Library in Go
 *
 * This file is part of gombot, a Go implementation of the Makeblock mBot
 * serial protocol used to poll the robot sensors.
 *
 * License: MIT License
 */

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/albenik/go-serial/v2"
	"github.com/albenik/go-serial/v2/enumerator"
)

// CH340 USB bridge of the mCore board
const (
	VendorID  = "1A86"
	ProductID = "7523"

	DefaultBaudRate      = 115200
	DefaultReadTimeoutMs = 1000
)

var ErrNoPorts = errors.New("no matching serial port found")

// FindPort returns the first USB serial port with the given vendor and
// product ids. Ids compare case-insensitively.
func FindPort(vid, pid string) (*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}
	for _, port := range ports {
		if port.IsUSB && strings.EqualFold(port.VID, vid) && strings.EqualFold(port.PID, pid) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("%w (vid=%s pid=%s)", ErrNoPorts, vid, pid)
}

// OpenPort opens the configured serial port, or the first port matching the
// configured USB ids when no name is set.
func OpenPort(cfg SerialConfig) (*Transport, error) {
	details := &enumerator.PortDetails{Name: cfg.Port}
	if cfg.Port == "" {
		found, err := FindPort(cfg.VendorID, cfg.ProductID)
		if err != nil {
			return nil, err
		}
		details = found
	}

	port, err := serial.Open(details.Name,
		serial.WithBaudrate(cfg.BaudRate),
		serial.WithDataBits(8),
		serial.WithParity(serial.NoParity),
		serial.WithStopBits(serial.OneStopBit),
		serial.WithReadTimeout(cfg.ReadTimeoutMs),
	)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", details.Name, err)
	}
	log.Printf("Opened serial port %s at %d baud", details.Name, cfg.BaudRate)

	return &Transport{
		Read:         port.Read,
		Write:        port.Write,
		Close:        port.Close,
		ProductID:    details.PID,
		VendorID:     details.VID,
		Product:      details.Product,
		SerialNumber: details.SerialNumber,
		PortName:     details.Name,
	}, nil
}

// SerialDialer returns a Dialer reopening the port described by cfg.
func SerialDialer(cfg SerialConfig) Dialer {
	return func() (*Transport, error) {
		return OpenPort(cfg)
	}
}
