package board

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/OpenTraceLab/xstools/pkg/flash"
	"github.com/OpenTraceLab/xstools/pkg/hostio"
	"github.com/OpenTraceLab/xstools/pkg/ram"
	"github.com/OpenTraceLab/xstools/pkg/xserr"
	"github.com/OpenTraceLab/xstools/pkg/xsusb"
)

// withCfgFlash runs fn with the configuration flash connected to the FPGA,
// restoring the microcontroller's flag afterwards.
func (b *Board) withCfgFlash(ctx context.Context, fn func(*flash.Programmer) error) error {
	if b.Model.GatedFlash {
		saved, err := xsusb.CfgFlashFlag(ctx, b.port)
		if err != nil {
			return err
		}
		if err := xsusb.SetCfgFlashFlag(ctx, b.port, xsusb.EnableFlash); err != nil {
			return err
		}
		defer func() {
			if err := xsusb.SetCfgFlashFlag(context.WithoutCancel(ctx), b.port, saved); err != nil {
				glog.Warningf("Restoring the configuration flash flag failed: %v", err)
			}
		}()
	}
	if err := b.loadHelper(ctx, "flash interface", b.Helpers.FlashInterface); err != nil {
		return err
	}
	conn, err := hostio.NewSPI(ctx, b.Channel(), FlashModule)
	if err != nil {
		return err
	}
	dev, err := flash.NewW25X(ctx, conn)
	if err != nil {
		return err
	}
	if b.MaxPolls > 0 {
		dev.MaxPolls = b.MaxPolls
	}
	return fn(flash.NewProgrammer(dev))
}

// ReadFlash returns the contents of rng in the configuration flash.
func (b *Board) ReadFlash(ctx context.Context, rng flash.Range) (*flash.Image, error) {
	var img *flash.Image
	err := b.withCfgFlash(ctx, func(p *flash.Programmer) error {
		var err error
		img, err = p.Read(ctx, rng)
		return err
	})
	return img, err
}

// WriteFlash erases the configuration flash and writes img into rng.
func (b *Board) WriteFlash(ctx context.Context, img *flash.Image, rng flash.Range) error {
	return b.withCfgFlash(ctx, func(p *flash.Programmer) error {
		if err := p.Erase(ctx, flash.All); err != nil {
			return err
		}
		return p.Write(ctx, img, rng)
	})
}

// VerifyFlash compares rng of the configuration flash with img.
func (b *Board) VerifyFlash(ctx context.Context, img *flash.Image, rng flash.Range) error {
	return b.withCfgFlash(ctx, func(p *flash.Programmer) error {
		return p.Verify(ctx, img, rng)
	})
}

// EraseFlash erases the configuration flash.
func (b *Board) EraseFlash(ctx context.Context) error {
	return b.withCfgFlash(ctx, func(p *flash.Programmer) error {
		return p.Erase(ctx, flash.All)
	})
}

func (b *Board) sdram(ctx context.Context) (*ram.SDRAM, error) {
	if err := b.loadHelper(ctx, "RAM interface", b.Helpers.RAMInterface); err != nil {
		return nil, err
	}
	return ram.Open(ctx, b.Model.RAM, b.Channel(), RAMModule)
}

// ReadRAM returns the contents of rng in the SDRAM.
func (b *Board) ReadRAM(ctx context.Context, rng flash.Range) (*flash.Image, error) {
	r, err := b.sdram(ctx)
	if err != nil {
		return nil, err
	}
	return r.Read(ctx, rng)
}

// WriteRAM stores img into rng of the SDRAM.
func (b *Board) WriteRAM(ctx context.Context, img *flash.Image, rng flash.Range) error {
	r, err := b.sdram(ctx)
	if err != nil {
		return err
	}
	return r.Write(ctx, img, rng)
}

// reflash runs fn with the microcontroller in its firmware loader and returns
// it to user mode afterwards, whatever fn reported.
func (b *Board) reflash(ctx context.Context, fn func(*flash.Programmer) error) error {
	if err := xsusb.EnterReflashMode(ctx, b.port); err != nil {
		return err
	}
	err := fn(flash.NewProgrammer(flash.NewPIC18F14K50(b.port)))
	if uerr := xsusb.EnterUserMode(context.WithoutCancel(ctx), b.port); uerr != nil {
		return errors.Join(err, uerr)
	}
	return err
}

// UpdateFirmware reprograms the microcontroller with img.
func (b *Board) UpdateFirmware(ctx context.Context, img *flash.Image) error {
	glog.V(1).Infof("Updating %s firmware", b.Model.Name)
	return b.reflash(ctx, func(p *flash.Programmer) error {
		return p.Program(ctx, img, flash.All)
	})
}

// VerifyFirmware compares the microcontroller's program memory with img.
func (b *Board) VerifyFirmware(ctx context.Context, img *flash.Image) error {
	return b.reflash(ctx, func(p *flash.Programmer) error {
		return p.Verify(ctx, img, flash.All)
	})
}

// FirmwareImage loads the configured firmware file.
func (b *Board) FirmwareImage() (*flash.Image, error) {
	if b.Helpers.Firmware == "" {
		return nil, xserr.Configurationf("board: no firmware file configured for %s", b.Model.Name)
	}
	return flash.LoadImage(b.Helpers.Firmware)
}
