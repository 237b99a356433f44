// Package compiler holds the front half of the pipeline for the toy
// language: lexer, parser, AST builder, symbol tables, IR generation, the
// IR optimizer and lowering to a virtual-register listing.
//
// Pipeline: source → Lex → Parse → BuildAST → BuildSymbols → GenerateIR →
// Optimize → GenerateAssembly
package compiler
