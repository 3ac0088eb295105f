package pipeline

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vin-resolver/internal/model"
)

func TestNormalize_VPICRow(t *testing.T) {
	row := model.ProviderRow{
		"Make":              "BMW",
		"Model":             "M4",
		"ModelYear":         "2021",
		"Trim":              "Competition",
		"BodyClass":         "Coupe",
		"Doors":             "2",
		"DriveType":         "RWD/Rear-Wheel Drive",
		"TransmissionStyle": "Automatic",
		"FuelTypePrimary":   "Gasoline",
		"EngineCylinders":   "6",
		"DisplacementL":     "2.993",
		"EngineHP":          "503",
		"BasePrice":         "$76,000",
		"ManufacturerName":  "BMW AG",
		"PlantCountry":      "GERMANY",
		"ErrorText":         "0 - VIN decoded clean.",
	}

	rec := Normalize(row, "WBS33AZ03MCG12345", 2026)

	assert.Equal(t, "WBS33AZ03MCG12345", rec.VIN)
	assert.Equal(t, 2021, *rec.Year)
	assert.Equal(t, "BMW", *rec.Make)
	assert.Equal(t, "M4", *rec.Model)
	assert.Equal(t, "Competition", *rec.Trim)
	assert.Equal(t, model.BodyCoupe, *rec.Body)
	assert.Equal(t, 2, *rec.Doors)
	assert.Equal(t, model.DriveRWD, *rec.Drive)
	assert.Equal(t, "Automatic", *rec.Transmission)
	assert.Equal(t, "Gasoline", *rec.Fuel)
	assert.Equal(t, 6, *rec.Cylinders)
	assert.InDelta(t, 2.993, *rec.Displacement, 0.0001)
	assert.InDelta(t, 503.0, *rec.EngineHP, 0.0001)
	assert.InDelta(t, 76000.0, *rec.MSRP, 0.0001)
	assert.Equal(t, "BMW AG", *rec.Manufacturer)
	assert.Equal(t, "GERMANY", *rec.PlantCountry)
	assert.Equal(t, "2021 BMW M4 Competition", *rec.Title)
	assert.Nil(t, rec.Summary)
}

func TestNormalize_CustomDecoderKeys(t *testing.T) {
	row := model.ProviderRow{
		"make":         "Toyota",
		"model":        "Tacoma",
		"year":         json.Number("2019"),
		"body_style":   "Pickup",
		"drivetrain":   "4x4",
		"transmission": "6-speed manual",
		"cylinders":    6,
		"hp":           278.0,
	}

	rec := Normalize(row, "3TMCZ5AN2KM123456", 2026)

	assert.Equal(t, 2019, *rec.Year)
	assert.Equal(t, "Toyota", *rec.Make)
	assert.Equal(t, model.BodyPickup, *rec.Body)
	assert.Equal(t, model.Drive4WD, *rec.Drive)
	assert.Equal(t, "6-speed manual", *rec.Transmission)
	assert.Equal(t, 6, *rec.Cylinders)
	assert.InDelta(t, 278.0, *rec.EngineHP, 0.0001)
}

func TestNormalize_AliasPriority(t *testing.T) {
	row := model.ProviderRow{
		"Make":             "FORD",
		"Model":            "F-150",
		"ModelYear":        "2013",
		"Trim":             "",
		"Series":           "XLT",
		"DriveType":        "",
		"DriveTypePrimary": "4WD/4-Wheel Drive/4x4",
	}

	rec := Normalize(row, "1FTFW1ET5DFC10312", 2026)

	require.NotNil(t, rec.Trim)
	assert.Equal(t, "XLT", *rec.Trim, "blank Trim falls through to Series")
	assert.Equal(t, model.Drive4WD, *rec.Drive)
}

func TestNormalize_BlankAndPlaceholderValues(t *testing.T) {
	row := model.ProviderRow{
		"Make":            "  HONDA  ",
		"Model":           "Civic",
		"ModelYear":       "2018",
		"Trim":            "   ",
		"BodyClass":       "Not Applicable",
		"Doors":           "",
		"EngineCylinders": "abc",
		"DisplacementL":   "NaN",
		"EngineHP":        math.Inf(1),
		"BasePrice":       "0",
		"FuelTypePrimary": nil,
	}

	rec := Normalize(row, "2HGFC2F59JH123456", 2026)

	assert.Equal(t, "HONDA", *rec.Make)
	assert.Nil(t, rec.Trim)
	assert.Nil(t, rec.Body)
	assert.Nil(t, rec.Doors)
	assert.Nil(t, rec.Cylinders)
	assert.Nil(t, rec.Displacement)
	assert.Nil(t, rec.EngineHP)
	assert.Nil(t, rec.MSRP)
	assert.Nil(t, rec.Fuel)
}

func TestNormalize_NeverMutatesRow(t *testing.T) {
	row := model.ProviderRow{"Make": " honda ", "Model": "Fit"}
	Normalize(row, "JHMGE8H59DC012345", 2026)
	assert.Equal(t, model.ProviderRow{"Make": " honda ", "Model": "Fit"}, row)
}

func TestNormalize_CollidingKeysAreDeterministic(t *testing.T) {
	tests := []struct {
		name string
		row  model.ProviderRow
		want model.BodyStyle
	}{
		{
			name: "exact alias beats folded key",
			row:  model.ProviderRow{"BodyClass": "Sedan", "Body Class": "Coupe"},
			want: model.BodySedan,
		},
		{
			name: "folded keys resolve in sorted order",
			row:  model.ProviderRow{"body class": "Coupe", "BODY_CLASS": "Sedan"},
			want: model.BodySedan,
		},
		{
			name: "blank key never shadows a value",
			row:  model.ProviderRow{"BODY_CLASS": "", "body class": "Coupe"},
			want: model.BodyCoupe,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				rec := Normalize(tt.row, "1HGCM82633A004352", 2026)
				require.NotNil(t, rec.Body)
				require.Equal(t, tt.want, *rec.Body, "iteration %d", i)
			}
		})
	}
}

func TestNormalize_YearFromVIN(t *testing.T) {
	tests := []struct {
		name        string
		vin         string
		currentYear int
		want        *int
	}{
		{"Y is 2000", "1HGCM8263YA004352", 2026, model.Ptr(2000)},
		{"L in 2026 is 2020", "1HGCM8263LA004352", 2026, model.Ptr(2020)},
		{"L in 2015 is 1990", "1HGCM8263LA004352", 2015, model.Ptr(1990)},
		{"digit 3 is 2003", "1HGCM82633A004352", 2026, model.Ptr(2003)},
		{"0 is not a year code", "1HGCM82630A004352", 2026, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Normalize(model.ProviderRow{"Make": "HONDA", "Model": "Accord"}, tt.vin, tt.currentYear)
			assert.Equal(t, tt.want, rec.Year)
		})
	}
}

func TestNormalize_ProviderYearWins(t *testing.T) {
	rec := Normalize(model.ProviderRow{"ModelYear": "2004"}, "1HGCM82633A004352", 2026)
	assert.Equal(t, 2004, *rec.Year)
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		in   string
		want *model.BodyStyle
	}{
		{"Hatchback/Liftback/Notchback", model.Ptr(model.BodyHatchback)},
		{"Coupe", model.Ptr(model.BodyCoupe)},
		{"Convertible/Cabriolet", model.Ptr(model.BodyConvertible)},
		{"Wagon", model.Ptr(model.BodyWagon)},
		{"Pickup", model.Ptr(model.BodyPickup)},
		{"Minivan", model.Ptr(model.BodyMinivan)},
		{"Cargo Van", model.Ptr(model.BodyVan)},
		{"Sport Utility Vehicle (SUV)/Multi-Purpose Vehicle (MPV)", model.Ptr(model.BodySUV)},
		{"Crossover Utility Vehicle (CUV)", model.Ptr(model.BodySUV)},
		{"Sedan/Saloon", model.Ptr(model.BodySedan)},
		{"Notchback", nil},
		{"Bus", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBody(tt.in))
		})
	}
}

func TestNormalizeDrive(t *testing.T) {
	tests := []struct {
		in   string
		want *model.DriveType
	}{
		{"FWD/Front-Wheel Drive", model.Ptr(model.DriveFWD)},
		{"RWD/ Rear-Wheel Drive", model.Ptr(model.DriveRWD)},
		{"AWD/All-Wheel Drive", model.Ptr(model.DriveAWD)},
		{"4WD/4-Wheel Drive/4x4", model.Ptr(model.Drive4WD)},
		{"Four-Wheel Drive", model.Ptr(model.Drive4WD)},
		{"awd", model.Ptr(model.DriveAWD)},
		{" rwd ", model.Ptr(model.DriveRWD)},
		{"6x6", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDrive(tt.in))
		})
	}
}
