// Package catalog wires the task kinds served by ic2 into a work registry.
// Both the server and the isolated worker build their registry here so the
// two always agree on the set of kinds.
package catalog

import (
	"github.com/sirupsen/logrus"

	"github.com/TTT3216/ic2/internal/config"
	"github.com/TTT3216/ic2/internal/model"
	"github.com/TTT3216/ic2/internal/work"
	"github.com/TTT3216/ic2/internal/work/compress"
	"github.com/TTT3216/ic2/internal/work/mailer"
)

// Options selects the settings of each work function.
type Options struct {
	Compress compress.Options
	SMTP     mailer.SMTPConfig

	// Sender overrides SMTP delivery when set.
	Sender mailer.Sender
}

// FromConfig derives Options from the application configuration.
func FromConfig(cfg config.Config) Options {
	return Options{
		Compress: compress.Options{
			Quality:      cfg.JPEGQuality,
			MaxDimension: cfg.MaxDimension,
		},
		SMTP: mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		},
	}
}

// Kinds lists the task kinds New registers.
func Kinds() []string {
	return []string{model.KindCompress, model.KindMail}
}

// New returns a registry holding the compress and mail work functions.
func New(opts Options, log logrus.FieldLogger) *work.Registry {
	reg := work.NewRegistry()
	reg.Register(model.KindCompress, compress.New(opts.Compress, log.WithField("kind", model.KindCompress)))

	var (
		from   string
		sender mailer.Sender
	)
	switch {
	case opts.Sender != nil:
		from, sender = opts.SMTP.Username, opts.Sender
	case opts.SMTP.Configured():
		from, sender = opts.SMTP.Username, mailer.NewSMTPSender(opts.SMTP)
	}
	reg.Register(model.KindMail, mailer.New(from, sender, log.WithField("kind", model.KindMail)))

	return reg
}
