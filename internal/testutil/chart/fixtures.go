package chart

// AccountCode is a chart-of-accounts code used in tests.
type AccountCode string

// String returns the code.
func (c AccountCode) String() string {
	return string(c)
}

// Codes present in the predefined fixtures.
const (
	FamilyAssets   AccountCode = "100"
	FamilyExpenses AccountCode = "600"

	SubfamilyFurniture   AccountCode = "155"
	SubfamilyComputers   AccountCode = "156"
	SubfamilyGeneral     AccountCode = "601"
	SubfamilySelling     AccountCode = "602"
	SubfamilyAdmin       AccountCode = "603"
	AccountFurniture     AccountCode = "155.01"
	AccountComputers     AccountCode = "156.01"
	AccountFuel          AccountCode = "601.48"
	AccountGeneralOther  AccountCode = "601.84"
	AccountFreight       AccountCode = "602.37"
	AccountCommissions   AccountCode = "602.58"
	AccountSellingOther  AccountCode = "602.84"
	AccountProfessional  AccountCode = "603.14"
	AccountRent          AccountCode = "603.45"
	AccountAdminSoftware AccountCode = "603.84"
)

// Fixture is a predefined chart.
type Fixture struct {
	Name    string
	Entries []Entry
}

// Entry is one fixture row.
type Entry struct {
	Code        AccountCode
	Name        string
	Description string
}

var (
	// FixtureExpenses is the expense family with three subfamilies.
	FixtureExpenses = Fixture{
		Name: "expenses",
		Entries: []Entry{
			{FamilyExpenses, "Gastos", "Gastos de operación"},
			{SubfamilyGeneral, "Gastos generales", "Gastos generales de operación"},
			{SubfamilySelling, "Gastos de venta", "Costos externos para vender y entregar mercancía"},
			{SubfamilyAdmin, "Gastos de administración", "Costos internos de administrar la empresa"},
			{AccountFuel, "Combustibles y lubricantes", "Gasolina y diésel de vehículos"},
			{AccountGeneralOther, "Otros gastos generales", "Gastos generales diversos"},
			{AccountFreight, "Fletes y acarreos", "Fletes, envíos y paquetería a clientes"},
			{AccountCommissions, "Comisiones sobre ventas", "Comisiones pagadas por ventas"},
			{AccountSellingOther, "Otros gastos de venta", "Almacenamiento, logística y tarifas de marketplace como Amazon"},
			{AccountProfessional, "Honorarios", "Honorarios contables, legales y de auditoría"},
			{AccountRent, "Arrendamiento", "Renta de oficinas"},
			{AccountAdminSoftware, "Otros gastos de administración", "Software, licencias y suscripciones"},
		},
	}

	// FixtureAssets adds capitalizable asset accounts.
	FixtureAssets = Fixture{
		Name: "assets",
		Entries: []Entry{
			{FamilyAssets, "Activo", "Activo fijo"},
			{SubfamilyFurniture, "Mobiliario y equipo de oficina", "Muebles de oficina"},
			{SubfamilyComputers, "Equipo de cómputo", "Computadoras y servidores"},
			{AccountFurniture, "Mobiliario y equipo de oficina", "Escritorios, sillas y mobiliario"},
			{AccountComputers, "Equipo de cómputo", "Laptops, computadoras y servidores"},
		},
	}
)
