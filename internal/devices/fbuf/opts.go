package fbuf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Option string grammar, comma-separated and order-independent:
//
//	wait,vga=on|io|off,rfb=<host>:port,w=width,h=height,password=<string>
func usage(opt string) {
	fmt.Fprintf(os.Stderr, "Invalid fbuf emulation option %q\n", opt)
	fmt.Fprintf(os.Stderr, "fbuf: {wait,}{vga=on|io|off,}rfb=<ip>:port{,w=width}{,h=height}\n")
}

func (f *Device) parseOpts(opts string) error {
	if opts == "" {
		return nil
	}

	for _, token := range strings.Split(opts, ",") {
		if token == "wait" {
			f.rfbWait = true
			continue
		}

		key, value, ok := strings.Cut(token, "=")
		if !ok {
			usage(token)
			return fmt.Errorf("fbuf: malformed option %q", token)
		}

		switch key {
		case "tcp", "rfb":
			if err := f.parseListenAddr(key, value); err != nil {
				return err
			}
		case "vga":
			switch value {
			case "off":
				f.vgaEnabled = false
			case "io":
				f.vgaEnabled = true
				f.vgaFull = false
			case "on":
				f.vgaEnabled = true
				f.vgaFull = true
			default:
				usage(key)
				return fmt.Errorf("fbuf: invalid vga option %q", value)
			}
		case "w":
			width, err := parseUint16(value)
			if err != nil {
				return fmt.Errorf("fbuf: invalid width %q: %w", value, err)
			}
			if width > colsMax {
				usage(key)
				return fmt.Errorf("fbuf: width %d exceeds maximum %d", width, colsMax)
			}
			if width == 0 {
				width = colsZeroOption
			}
			f.regs.SetUint16At(regWidth, width)
		case "h":
			height, err := parseUint16(value)
			if err != nil {
				return fmt.Errorf("fbuf: invalid height %q: %w", value, err)
			}
			if height > rowsMax {
				usage(key)
				return fmt.Errorf("fbuf: height %d exceeds maximum %d", height, rowsMax)
			}
			if height == 0 {
				height = rowsZeroOption
			}
			f.regs.SetUint16At(regHeight, height)
		case "password":
			f.rfbPassword = value
		default:
			usage(token)
			return fmt.Errorf("fbuf: unknown option %q", key)
		}
	}

	return nil
}

// parseListenAddr accepts host:port, [v6-addr%zone]:port and a bare port.
// The port is mandatory and numeric.
func (f *Device) parseListenAddr(key, value string) error {
	if bracket := strings.IndexByte(value, ']'); bracket >= 0 {
		host := strings.TrimPrefix(value[:bracket], "[")
		rest := value[bracket+1:]
		if !strings.HasPrefix(rest, ":") {
			usage(key)
			return fmt.Errorf("fbuf: missing port in %q", value)
		}
		port, err := strconv.Atoi(rest[1:])
		if err != nil {
			return fmt.Errorf("fbuf: invalid port in %q: %w", value, err)
		}
		f.rfbHost = host
		f.rfbPort = port
		return nil
	}

	host, portStr, hasHost := strings.Cut(value, ":")
	if !hasHost {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("fbuf: invalid port in %q: %w", value, err)
		}
		f.rfbPort = port
		return nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("fbuf: invalid port in %q: %w", value, err)
	}
	f.rfbHost = host
	f.rfbPort = port
	return nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v != uint64(uint16(v)) {
		return 0, fmt.Errorf("value %d does not fit in 16 bits", v)
	}
	return uint16(v), nil
}
