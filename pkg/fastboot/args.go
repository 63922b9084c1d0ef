// Package fastboot understands just enough of the fastboot command line to
// redirect it to a remote host: the target serial, and which arguments name
// image files that must be copied over first.
package fastboot

// Subcommand is a fastboot subcommand that consumes image files
type Subcommand struct {
	Name string
	// Arity is how many trailing arguments of the subcommand may be files
	Arity int
}

// Subcommands is scanned in order; the first one present in the arguments wins.
var Subcommands = []Subcommand{
	{Name: "boot", Arity: 1},
	{Name: "flash", Arity: 2},
	{Name: "flash:raw", Arity: 2},
	{Name: "update", Arity: 1},
}

// Serial returns the argument following the first -s, if any
func Serial(args []string) (string, bool) {
	for i, a := range args {
		if a == "-s" && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}

// FindSubcommand returns the first table subcommand present in args and the
// index of its first occurrence.
func FindSubcommand(args []string) (Subcommand, int, bool) {
	for _, sub := range Subcommands {
		for i, a := range args {
			if a == sub.Name {
				return sub, i, true
			}
		}
	}
	return Subcommand{}, -1, false
}

// Window returns the indexes of the arguments that may name files to stage.
//
// The window starts at min(idx+arity, len(args)-arity), never before the
// argument following the subcommand, and runs to the end of args. For
// "flash boot boot.img" that is just boot.img; for "flash a.img b.img" it is
// both images. Arguments in the window that are not local files are left
// alone by the stager.
func Window(args []string) []int {
	sub, idx, ok := FindSubcommand(args)
	if !ok {
		return nil
	}

	start := idx + sub.Arity
	if tail := len(args) - sub.Arity; tail < start {
		start = tail
	}
	if start < idx+1 {
		start = idx + 1
	}

	var out []int
	for i := start; i < len(args); i++ {
		out = append(out, i)
	}
	return out
}
