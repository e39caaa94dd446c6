package imu

import "math"

// Full-scale ranges of the sensor's signed 16-bit wire fields:
// ±16 g acceleration, ±2000 °/s angular rate, ±180° orientation angles.
const (
	accelScale = 16.0 / 32768.0
	gyroScale  = 2000.0 / 32768.0
	angleScale = 180.0 / 32768.0
)

// BaselineOffset is subtracted from the acceleration magnitude before kick
// detection. It covers gravity plus the static bias measured on the actual
// sensor; readings at rest compensate to zero.
const BaselineOffset = 2.09

// ScaleAccel converts a raw accelerometer field to g.
func ScaleAccel(raw int16) float64 {
	return float64(raw) * accelScale
}

// ScaleGyro converts a raw angular-rate field to °/s.
func ScaleGyro(raw int16) float64 {
	return float64(raw) * gyroScale
}

// ScaleAngle converts a raw orientation field to degrees.
func ScaleAngle(raw int16) float64 {
	return float64(raw) * angleScale
}

// Sample is one decoded telemetry reading in physical units.
type Sample struct {
	Ax float64 `json:"ax"` // accel, g
	Ay float64 `json:"ay"`
	Az float64 `json:"az"`

	Gx float64 `json:"gx"` // gyro, °/s
	Gy float64 `json:"gy"`
	Gz float64 `json:"gz"`

	Roll  float64 `json:"roll"` // orientation, degrees
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`

	// AccelMagnitude is the Euclidean norm of the acceleration vector.
	AccelMagnitude float64 `json:"accel_magnitude"`
	// CompensatedMagnitude is AccelMagnitude minus BaselineOffset, floored
	// at zero. This is the value the kick detector consumes.
	CompensatedMagnitude float64 `json:"compensated_magnitude"`
}

// NewSample scales one raw wire reading and computes the derived magnitudes.
func NewSample(ax, ay, az, gx, gy, gz, roll, pitch, yaw int16) Sample {
	s := Sample{
		Ax:    ScaleAccel(ax),
		Ay:    ScaleAccel(ay),
		Az:    ScaleAccel(az),
		Gx:    ScaleGyro(gx),
		Gy:    ScaleGyro(gy),
		Gz:    ScaleGyro(gz),
		Roll:  ScaleAngle(roll),
		Pitch: ScaleAngle(pitch),
		Yaw:   ScaleAngle(yaw),
	}
	s.AccelMagnitude = math.Sqrt(s.Ax*s.Ax + s.Ay*s.Ay + s.Az*s.Az)
	s.CompensatedMagnitude = math.Max(0, s.AccelMagnitude-BaselineOffset)
	return s
}
