//go:build linux

package hal

import (
	"context"
	"os"
	"strings"

	"github.com/omen-fan/omen-fan/pkg/ec"
	"github.com/omen-fan/omen-fan/pkg/log"
	"github.com/sierrasoftworks/humane-errors-go"
	"go.uber.org/zap"
)

// SupportedDevices lists the DMI product names whose EC register map matches ours.
var SupportedDevices = []string{"OMEN by HP Laptop 15"}

// NewHal checks that the machine is a supported OMEN model, makes the EC I/O window
// writable and opens it. Nothing here touches an EC register.
func NewHal(ctx context.Context, opts FanHalOpts) (FanHal, humane.Error) {
	opts = opts.withDefaults()

	if err := CheckDevice(ctx, opts.ProductNameFile, opts.BypassDeviceCheck); err != nil {
		return nil, err
	}

	if err := opts.ModuleLoader.EnsureWritable(ctx); err != nil {
		return nil, err
	}

	port, err := ec.Open(opts.IOFile)
	if err != nil {
		return nil, err
	}

	log.FromContext(ctx).Info("starting hal setup", zap.String("hal", "omen"), zap.String("io", opts.IOFile))
	return NewWithPort(port, opts), nil
}

// CheckDevice reads the DMI product name and fails unless it names a supported device.
func CheckDevice(ctx context.Context, productNameFile string, bypass bool) humane.Error {
	raw, err := os.ReadFile(productNameFile)
	if err != nil {
		if bypass {
			return nil
		}
		return humane.Wrap(err, "failed to read the DMI product name",
			"set BYPASS_DEVICE_CHECK = 1 in the [script] section to skip the device check",
		)
	}

	product := strings.TrimSpace(string(raw))
	log.FromContext(ctx).Info("detected platform", zap.String("product", product))

	for _, device := range SupportedDevices {
		if strings.Contains(product, device) {
			return nil
		}
	}

	if bypass {
		log.FromContext(ctx).Warn("device is not supported, continuing because the device check is bypassed",
			zap.String("product", product))
		return nil
	}

	return humane.New("device not supported: "+product,
		"this tool only knows the EC register map of: "+strings.Join(SupportedDevices, ", "),
		"set BYPASS_DEVICE_CHECK = 1 in the [script] section if you are sure the register map matches",
	)
}
