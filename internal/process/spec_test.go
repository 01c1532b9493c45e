package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in, def string
		interp  string
		args    []string
	}{
		{"python3 bot.py", "", "python3", []string{"bot.py"}},
		{"  node  index.js --port 3000 ", "", "node", []string{"index.js", "--port", "3000"}},
		{"", "python3 bot.py", "python3", []string{"bot.py"}},
		{"./run", "", "./run", []string{}},
		{"sh -c 'echo hi; sleep 1'", "", "/bin/sh", []string{"-c", "echo hi; sleep 1"}},
		{"/bin/sh -c \"exec sleep 5\"", "", "/bin/sh", []string{"-c", "exec sleep 5"}},
		{"", "", "", nil},
	}
	for _, c := range cases {
		interp, args := SplitCommand(c.in, c.def)
		assert.Equal(t, c.interp, interp, c.in)
		assert.Equal(t, c.args, args, c.in)
	}
}

func TestLastToken(t *testing.T) {
	assert.Equal(t, "bot.py", LastToken("python3 bot.py"))
	assert.Equal(t, "main.js", LastToken("node  main.js "))
	assert.Equal(t, "", LastToken("   "))
}
