package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errEmptyRef = errors.New("empty chat reference")

// promptRef возвращает current, если он задан, иначе спрашивает значение у пользователя.
func promptRef(in *bufio.Reader, out io.Writer, label, current string) (string, error) {
	if ref := strings.TrimSpace(current); ref != "" {
		fmt.Fprintf(out, "- %s: %s\n", label, ref)
		return ref, nil
	}
	fmt.Fprintf(out, "- %s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	ref := strings.TrimSpace(line)
	if ref == "" {
		return "", errEmptyRef
	}
	return ref, nil
}
