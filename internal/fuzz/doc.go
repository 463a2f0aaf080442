// Package fuzztests houses Go fuzz harnesses that exercise the reading layers
// of the assembler (source -> line view, and the TOML manifest loader). Its
// goal is to smoke test robustness and guard against panics or allocator
// explosions on arbitrary inputs.
//
// Назначение: загружать произвольные байты в FileSet и читать их построчно
// через View; скармливать произвольный TOML загрузчику манифеста.
//
// Не делает: генерацию корпусов, исполнение директив, запись объектных
// файлов.
//
// Зависимости: internal/source, internal/lexer, internal/config.

package fuzztests
