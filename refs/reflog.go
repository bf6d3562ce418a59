package refs

import (
	"fmt"
	"os"
	"strings"

	billy "github.com/go-git/go-billy/v5"

	"github.com/git-core/gitcore/internal/gitkind"
	"github.com/git-core/gitcore/object"
	"github.com/git-core/gitcore/objid"
)

const reflogDir = "logs"

// appendReflog records one line to <gitdir>/logs/<refname>, creating the
// file and its parent directories on first use. This is a supplemented
// feature: the reference model never requires a log to resolve anything,
// but every ref update in a real checkout leaves one, per spec.md §6's
// External Interfaces.
func appendReflog(fs billy.Filesystem, name Name, old, new objid.ID, who object.Signature, message string) error {
	path := reflogDir + "/" + string(name)
	if err := fs.MkdirAll(parentDir(path), 0o777); err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "refs: creating reflog directory for "+string(name))
	}

	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "refs: opening reflog for "+string(name))
	}
	defer f.Close()

	_, tzo := who.When.Zone()
	sign := "+"
	if tzo < 0 {
		sign = "-"
		tzo = -tzo
	}
	line := fmt.Sprintf("%s %s %s <%s> %d %s%02d%02d\t%s\n",
		old, new, who.Name, who.Email, who.When.Unix(), sign, tzo/3600, (tzo/60)%60, oneLine(message))

	if _, err := f.Write([]byte(line)); err != nil {
		return gitkind.Wrap(gitkind.IoError, err, "refs: writing reflog for "+string(name))
	}
	return nil
}

func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}

func oneLine(message string) string {
	return strings.ReplaceAll(strings.TrimRight(message, "\n"), "\n", " ")
}
