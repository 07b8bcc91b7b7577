package buildinfo

const Graffiti = "  ____    _    _     ___ ____  \n" +
	" / ___|  / \\  | |   |_ _| __ ) \n" +
	"| |     / _ \\ | |    | ||  _ \\ \n" +
	"| |___ / ___ \\| |___ | || |_) |\n" +
	" \\____/_/   \\_\\_____|___|____/ \n\n"

var (
	BuildTag string = "v0.0.0"
	Name     string = "CALIB"
	Time     string = ""
)

type buildinfo struct{}

func (buildinfo) Tag() string {
	return BuildTag
}

func (buildinfo) Name() string {
	return Name
}

func (buildinfo) Time() string {
	return Time
}

// Banner is the startup line printed by the pipeline commands.
func (b buildinfo) Banner(pipeline string) string {
	return b.Name() + " " + pipeline + ": " + b.Time() + ", " + b.Tag() + "\n"
}

var Info buildinfo
