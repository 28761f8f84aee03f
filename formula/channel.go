package formula

import (
	"maps"
)

// Resolution is the outcome of channel resolution: the single active
// channel of a run and the build descriptor that applies to it.
type Resolution struct {
	Formula string
	Channel Channel
	// Version is the package version: the stable release version, or HeadVersion.
	Version string
	// Build is the formula's build descriptor with File resolved for Channel.
	Build BuildDescriptor
}

// Mode returns the mode of the resolved channel.
func (r *Resolution) Mode() Mode {
	return r.Channel.Mode()
}

// ParseMode converts a selection flag into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Stable, Head:
		return m, nil
	case "":
		return Stable, nil
	}
	return "", configErrorf("", "unknown channel %q, want %q or %q", s, Stable, Head)
}

// Resolve picks the channel selected by mode and the build descriptor
// variant applicable to it. It has no side effects.
func Resolve(f *FormulaSpec, mode Mode) (*Resolution, error) {
	if mode != Stable && mode != Head {
		return nil, configErrorf(f.Name, "unknown channel %q, want %q or %q", mode, Stable, Head)
	}
	ch := f.Channel(mode)
	if ch == nil {
		return nil, configErrorf(f.Name, "formula has no %s channel", mode)
	}

	var version string
	switch ch := ch.(type) {
	case *StableChannel:
		if ch.Digest == "" {
			return nil, configErrorf(f.Name, "stable channel %s has no integrity digest", ch.ArchiveURL)
		}
		if ch.Version == "" {
			return nil, configErrorf(f.Name, "stable channel %s has no version", ch.ArchiveURL)
		}
		version = ch.Version
	case *HeadChannel:
		version = HeadVersion
	}

	file := f.Build.File
	if override := ch.DescriptorFile(); override != "" {
		file = override
	}
	file, err := Expand(file, map[string]string{
		VarVersion: version,
		VarName:    f.Name,
	})
	if err != nil {
		return nil, configErrorf(f.Name, "build descriptor: %v", err)
	}

	return &Resolution{
		Formula: f.Name,
		Channel: ch,
		Version: version,
		Build: BuildDescriptor{
			Command: f.Build.Command,
			File:    file,
			Env:     maps.Clone(f.Build.Env),
		},
	}, nil
}
