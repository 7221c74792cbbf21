package script

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// scriptLexer splits cable scripts. Newlines and semicolons end statements.
var scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "EOL", Pattern: `[\n;]+`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+|0[bB][01]+|[0-9]+`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `=`},
})

// Script is a parsed cable script.
type Script struct {
	Statements []*Statement `( EOL | @@ )*`
}

// Statement is one command line.
type Statement struct {
	Pos lexer.Position

	OE    *string  `  "oe" @( "on" | "off" )`
	Set   []*Arg   ` | "set" @@+`
	Read  bool     ` | @"read"`
	Reset bool     ` | @"reset"`
	TMS   []string ` | "tms" @Number+`
	Clock *Clock   ` | "clock" @@`
	Shift *Shift   ` | "shift" @@`
	Sleep *string  ` | "sleep" @Number`
}

// Arg is a name=value pair or a bare flag.
type Arg struct {
	Pos   lexer.Position
	Name  string  `@Ident`
	Value *string `( "=" @Number )?`
}

// Clock runs TCK cycles.
type Clock struct {
	Count string `@Number`
	Args  []*Arg `@@*`
}

// Shift sends bytes through the byte shifter.
type Shift struct {
	Read bool     `@"read"?`
	Data []string `@Number+`
}

var parser = participle.MustBuild[Script](
	participle.Lexer(scriptLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.UseLookahead(2),
)
