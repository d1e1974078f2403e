package domain

import "sort"

// Language 描述一种可运行语言：标识、显示名、执行后端 ID 以及初始模板。
type Language struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	BackendID int    `json:"backendId"`
	Template  string `json:"-"`
}

// DefaultLanguage 是新房间的默认语言。
const DefaultLanguage = "javascript"

// 语言表与执行后端 ID 固定对应，不能修改。
var languages = map[string]Language{
	"javascript": {
		Key: "javascript", Name: "JavaScript", BackendID: 63,
		Template: "// Write your JavaScript code here\nconsole.log(\"Hello, World!\");\n",
	},
	"python": {
		Key: "python", Name: "Python", BackendID: 71,
		Template: "# Write your Python code here\nprint(\"Hello, World!\")\n",
	},
	"java": {
		Key: "java", Name: "Java", BackendID: 62,
		Template: "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}\n",
	},
	"cpp": {
		Key: "cpp", Name: "C++", BackendID: 54,
		Template: "#include <iostream>\n\nint main() {\n    std::cout << \"Hello, World!\" << std::endl;\n    return 0;\n}\n",
	},
	"c": {
		Key: "c", Name: "C", BackendID: 50,
		Template: "#include <stdio.h>\n\nint main() {\n    printf(\"Hello, World!\\n\");\n    return 0;\n}\n",
	},
	"csharp": {
		Key: "csharp", Name: "C#", BackendID: 51,
		Template: "using System;\n\nclass Program {\n    static void Main() {\n        Console.WriteLine(\"Hello, World!\");\n    }\n}\n",
	},
}

// LookupLanguage 按标识查找语言。
func LookupLanguage(key string) (Language, bool) {
	l, ok := languages[key]
	return l, ok
}

// LookupLanguageByBackendID 按执行后端 ID 反查语言。
func LookupLanguageByBackendID(id int) (Language, bool) {
	for _, l := range languages {
		if l.BackendID == id {
			return l, true
		}
	}
	return Language{}, false
}

// LanguageTemplate 返回语言对应的初始代码；未知语言返回空串。
func LanguageTemplate(key string) string {
	return languages[key].Template
}

// Languages 按标识排序返回全部语言。
func Languages() []Language {
	out := make([]Language, 0, len(languages))
	for _, l := range languages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
