// Package framesource provides the radiometric frame source contract and a
// simulated Lepton-class sensor.
//
// The source produces frames at sensor rate. Each frame carries the 16-bit
// radiometric pixel buffer, the telemetry words and the checksum computed by
// the sensor interface. The core validates the checksum before distribution.
//
// # Quick Start
//
//	src := framesource.NewSimulator(framesource.SimulatorConfig{FPS: 9})
//	frames, err := src.Start(ctx)
//	if err != nil {
//	    return err
//	}
//	defer src.Stop()
//
//	for f := range frames {
//	    supplier.Publish(f)
//	}
//
// # Geometry
//
//   - Lepton 3.5: 160x120 pixels, 240 telemetry words (default)
//   - Lepton 2.x: 80x60 pixels, 240 telemetry words
package framesource
