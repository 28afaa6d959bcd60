package camera

// PickDevice chooses the device to open for config. An explicit DeviceID wins;
// otherwise an environment-facing camera is preferred over anything else.
func PickDevice(devices []Device, config StreamConfig) (Device, error) {
	if config.DeviceID != "" {
		for _, d := range devices {
			if d.ID == config.DeviceID && d.IsAvailable {
				return d, nil
			}
		}
	}

	want := config.Facing
	if want == FacingUnknown {
		want = FacingEnvironment
	}
	for _, d := range devices {
		if d.IsAvailable && d.Facing == want {
			return d, nil
		}
	}

	for _, d := range devices {
		if d.IsAvailable {
			return d, nil
		}
	}
	return Device{}, ErrNoDevice
}
