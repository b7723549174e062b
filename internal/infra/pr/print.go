// Package pr — тонкая обёртка для унифицированного вывода в интерактивной
// консоли. Инициализирует readline с отменяемым stdin, переназначает потоки
// вывода на его буферы и даёт удобные функции печати, включая pretty-печать
// структур для диагностики. Мьютекс защищает только смену целевых writer'ов;
// потокобезопасность самих записей — на стороне writer'а (rl.Stdout безопасен).

package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	// rl — активный инстанс readline; nil до Init().
	rl *readline.Instance
	// out/errOut — текущие потоки вывода; до Init() — stdout/stderr процесса.
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
	mu     sync.Mutex

	// cancelableIn — stdin, который можно закрыть, чтобы прервать ожидание
	// ввода при завершении (readline получает io.EOF).
	cancelableIn interface{ Close() error }
)

// Init настраивает readline и перенаправляет потоки вывода на его буферы.
// Повторный вызов не предусмотрен.
func Init(prompt string) error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Prompt: prompt, Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()
	return nil
}

// InterruptReadline закрывает cancelable stdin: Readline() возвращается с
// io.EOF. Идемпотентна.
func InterruptReadline() {
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// Rl возвращает текущий инстанс readline (nil, если Init() не вызывался).
func Rl() *readline.Instance {
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Println печатает значения в Stdout с переводом строки. Работает и до Init().
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует строку и печатает её в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrintf форматирует строку и печатает её в Stderr.
func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP pretty-печатает значение в Stdout. Для отладки; аллоцирует.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}
